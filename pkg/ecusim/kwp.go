package ecusim

// NewKWP creates a simulated ECU speaking KWP2000 over ISO-TP. The ECU
// boots in the normal session (0x81) and uses the KWP negative response
// vocabulary, notably 0x80 for a service rejected because the extended
// session timed out.
func NewKWP(opts ...Option) *ECU {
	return newECU(installKWP, opts)
}

func installKWP(e *ECU) {
	e.defaultSession = 0x81
	e.busyCode = 0x21
	e.pendingCode = 0x78
	e.wrongCode = 0x80

	e.handlers[0x10] = kwpStartDiagnosticSession
	e.handlers[0x11] = kwpECUReset
	e.handlers[0x14] = kwpClearDiagnosticInformation
	e.handlers[0x18] = kwpReadDTCsByStatus
	e.handlers[0x1A] = kwpReadECUIdentification
	e.handlers[0x21] = kwpReadDataByLocalIdentifier
	e.handlers[0x23] = kwpReadMemoryByAddress
	e.handlers[0x27] = udsSecurityAccess // same seed/key flow
	e.handlers[0x31] = kwpRoutine
	e.handlers[0x32] = kwpRoutine
	e.handlers[0x33] = kwpRoutine
	e.handlers[0x3B] = kwpWriteDataByLocalIdentifier
	e.handlers[0x3E] = kwpTesterPresent

	if e.identPages[0x86] == nil {
		// Daimler identification: BCD part number, build weeks, supplier,
		// diagnostic info, production date
		e.identPages[0x86] = []byte{
			0x00, 0x34, 0x47, 0x12, 0x30,
			0x12, 0x21, 0x45, 0x22,
			0x42, 0x01, 0x02, 0x00,
			0x22, 0x03, 0x15,
		}
	}
	if e.identPages[0x87] == nil {
		page := []byte{0x01, 0x42, 0x01, 0x02, 0x00, 0x12, 0x34, 0x01, 0x02, 0x03}
		e.identPages[0x87] = append(page, []byte("KWP1234567")...)
	}
	if e.identPages[0x89] == nil {
		e.identPages[0x89] = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	}
	if e.identPages[0x96] == nil {
		e.identPages[0x96] = []byte("CAL07R32")
	}
	if e.identPages[0x97] == nil {
		e.identPages[0x97] = []byte{0x11, 0x22, 0x33, 0x44}
	}
}

func kwpStartDiagnosticSession(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	e.setSession(req[1])
	return single(positive(req[0], req[1]))
}

func kwpECUReset(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	e.setSession(e.defaultSession)
	e.unlocked = false
	return single(positive(req[0]))
}

func kwpClearDiagnosticInformation(e *ECU, req []byte) []Reply {
	if len(req) < 3 {
		return single(e.negative(req[0], 0x12))
	}
	e.dtcs = nil
	return single(positive(req[0], req[1], req[2]))
}

func kwpReadDTCsByStatus(e *ECU, req []byte) []Reply {
	if len(req) < 4 {
		return single(e.negative(req[0], 0x12))
	}
	out := []byte{byte(len(e.dtcs))}
	for _, d := range e.dtcs {
		out = append(out, byte(d.Raw>>8), byte(d.Raw), d.Status)
	}
	return single(positive(req[0], out...))
}

func kwpReadECUIdentification(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	page := req[1]
	switch page {
	case 0x88, 0x90:
		return single(positive(req[0], append([]byte{page}, []byte(e.vin)...)...))
	}
	data, found := e.identPages[page]
	if !found {
		return single(e.negative(req[0], 0x12))
	}
	return single(positive(req[0], append([]byte{page}, data...)...))
}

func kwpReadDataByLocalIdentifier(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	data, found := e.localIdents[req[1]]
	if !found {
		return single(e.negative(req[0], 0x31))
	}
	return single(positive(req[0], append([]byte{req[1]}, data...)...))
}

// kwpReadMemoryByAddress uses the 3 byte address, 1 byte size form.
func kwpReadMemoryByAddress(e *ECU, req []byte) []Reply {
	if len(req) < 5 {
		return single(e.negative(req[0], 0x12))
	}
	addr := uint32(req[1])<<16 | uint32(req[2])<<8 | uint32(req[3])
	data, ok := e.readMemory(addr, int(req[4]))
	if !ok {
		return single(e.negative(req[0], 0x31))
	}
	return single(positive(req[0], data...))
}

func kwpWriteDataByLocalIdentifier(e *ECU, req []byte) []Reply {
	if len(req) < 3 {
		return single(e.negative(req[0], 0x12))
	}
	if e.inDefaultSession() {
		return single(e.negative(req[0], e.wrongCode))
	}
	e.localIdents[req[1]] = append([]byte(nil), req[2:]...)
	return single(positive(req[0], req[1]))
}

func kwpRoutine(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	if e.inDefaultSession() {
		return single(e.negative(req[0], e.wrongCode))
	}
	return single(positive(req[0], req[1]))
}

func kwpTesterPresent(e *ECU, req []byte) []Reply {
	e.testerPresents++
	e.touchSession()
	if len(req) >= 2 && req[1] == 0x02 {
		return nil
	}
	return single(positive(req[0]))
}
