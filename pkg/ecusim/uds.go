package ecusim

// installUDS wires the ISO 14229 behavior: sessions 0x01-0x04 with
// suppress-reply support, identifier read/write, DTC reporting in the
// 3 byte format, seed/key security and routine control. Services that
// change the ECU require a non-default session, answering 0x7F when
// the session fell back.
func installUDS(e *ECU) {
	e.defaultSession = 0x01
	e.busyCode = 0x21
	e.pendingCode = 0x78
	e.wrongCode = 0x7F

	e.handlers[0x10] = udsSessionControl
	e.handlers[0x11] = udsECUReset
	e.handlers[0x14] = udsClearDTCs
	e.handlers[0x19] = udsReadDTCInformation
	e.handlers[0x22] = udsReadDataByIdentifier
	e.handlers[0x23] = udsReadMemoryByAddress
	e.handlers[0x27] = udsSecurityAccess
	e.handlers[0x2E] = udsWriteDataByIdentifier
	e.handlers[0x31] = udsRoutineControl
	e.handlers[0x3E] = udsTesterPresent
}

func udsSessionControl(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x13))
	}
	id := req[1] &^ 0x80
	if id == 0 || id > 0x7E {
		return single(e.negative(req[0], 0x31))
	}
	e.setSession(id)
	if req[1]&0x80 != 0 {
		return nil
	}
	// session parameter record: P2 50ms, P2* 5000ms
	return single(positive(req[0], id, 0x00, 0x32, 0x01, 0xF4))
}

func udsECUReset(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x13))
	}
	e.setSession(e.defaultSession)
	e.unlocked = false
	if req[1] == 0x04 {
		// rapid shutdown, report 5s power down time
		return single(positive(req[0], req[1], 0x05))
	}
	return single(positive(req[0], req[1]))
}

func udsClearDTCs(e *ECU, req []byte) []Reply {
	if len(req) < 4 {
		return single(e.negative(req[0], 0x13))
	}
	e.dtcs = nil
	return single(positive(req[0]))
}

func udsReadDTCInformation(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x13))
	}
	const availability = 0xFF
	switch sub := req[1]; sub {
	case 0x01: // number by status mask
		n := len(e.dtcs)
		return single(positive(req[0], sub, availability, 0x01, byte(n>>8), byte(n)))
	case 0x02, 0x0A: // by status mask, supported
		out := []byte{sub, availability}
		for _, d := range e.dtcs {
			out = append(out, byte(d.Raw>>16), byte(d.Raw>>8), byte(d.Raw), d.Status)
		}
		return single(positive(req[0], out...))
	}
	return single(e.negative(req[0], 0x12))
}

func udsReadDataByIdentifier(e *ECU, req []byte) []Reply {
	if len(req) < 3 {
		return single(e.negative(req[0], 0x13))
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	if did == 0xF190 {
		return single(positive(req[0], append([]byte{req[1], req[2]}, []byte(e.vin)...)...))
	}
	data, found := e.dids[did]
	if !found {
		return single(e.negative(req[0], 0x31))
	}
	return single(positive(req[0], append([]byte{req[1], req[2]}, data...)...))
}

func udsWriteDataByIdentifier(e *ECU, req []byte) []Reply {
	if len(req) < 4 {
		return single(e.negative(req[0], 0x13))
	}
	if e.inDefaultSession() {
		return single(e.negative(req[0], e.wrongCode))
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	e.dids[did] = append([]byte(nil), req[3:]...)
	return single(positive(req[0], req[1], req[2]))
}

func udsReadMemoryByAddress(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x13))
	}
	// addressAndLengthFormatIdentifier, size length in the high nibble
	sizeLen := int(req[1] >> 4)
	addrLen := int(req[1] & 0x0F)
	if addrLen < 1 || addrLen > 4 || sizeLen < 1 || sizeLen > 4 || len(req) != 2+addrLen+sizeLen {
		return single(e.negative(req[0], 0x13))
	}
	var addr, size uint32
	for _, b := range req[2 : 2+addrLen] {
		addr = addr<<8 | uint32(b)
	}
	for _, b := range req[2+addrLen:] {
		size = size<<8 | uint32(b)
	}
	data, ok := e.readMemory(addr, int(size))
	if !ok {
		return single(e.negative(req[0], 0x31))
	}
	return single(positive(req[0], data...))
}

func udsSecurityAccess(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x13))
	}
	if e.inDefaultSession() {
		return single(e.negative(req[0], e.wrongCode))
	}
	level := req[1]
	if level%2 == 1 { // seed request
		e.seedSent = true
		return single(positive(req[0], append([]byte{level}, e.seed...)...))
	}
	// key submission
	if !e.seedSent {
		return single(e.negative(req[0], 0x24))
	}
	key := req[2:]
	if len(key) != len(e.seed) {
		return single(e.negative(req[0], 0x35))
	}
	for i, b := range key {
		if b != e.seed[i]^0xFF {
			return single(e.negative(req[0], 0x35))
		}
	}
	e.unlocked = true
	e.seedSent = false
	return single(positive(req[0], level))
}

func udsRoutineControl(e *ECU, req []byte) []Reply {
	if len(req) < 4 {
		return single(e.negative(req[0], 0x13))
	}
	if e.inDefaultSession() {
		return single(e.negative(req[0], e.wrongCode))
	}
	// echo operation and routine id, routine completed ok
	return single(positive(req[0], req[1], req[2], req[3], 0x00))
}

func udsTesterPresent(e *ECU, req []byte) []Reply {
	e.testerPresents++
	e.touchSession()
	if len(req) >= 2 && req[1]&0x80 != 0 {
		return nil
	}
	return single(positive(req[0], 0x00))
}
