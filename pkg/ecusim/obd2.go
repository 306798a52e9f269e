package ecusim

// NewOBD2 creates a simulated engine ECU speaking plain OBD2. No
// sessions and no keep-alive, the emissions services answer at any
// time. Supported: coolant temperature, engine speed, vehicle speed,
// stored DTCs and the service 09 vehicle information PIDs.
func NewOBD2(opts ...Option) *ECU {
	return newECU(installOBD2, opts)
}

func installOBD2(e *ECU) {
	e.busyCode = 0x21
	e.pendingCode = 0x78
	e.wrongCode = 0x11

	e.handlers[0x01] = obd2Service01
	e.handlers[0x03] = obd2ReadDTCs
	e.handlers[0x04] = obd2ClearDTCs
	e.handlers[0x09] = obd2Service09
}

func obd2Service01(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	switch pid := req[1]; pid {
	case 0x00:
		// coolant temp, engine speed and vehicle speed supported
		return single(positive(req[0], pid, 0x08, 0x18, 0x00, 0x00))
	case 0x05:
		// 90 degrees C with the 40 degree offset
		return single(positive(req[0], pid, 130))
	case 0x0C:
		// 800 rpm in quarter-rpm steps
		return single(positive(req[0], pid, 0x0C, 0x80))
	case 0x0D:
		return single(positive(req[0], pid, 60))
	}
	return single(e.negative(req[0], 0x12))
}

func obd2ReadDTCs(e *ECU, req []byte) []Reply {
	out := []byte{byte(len(e.dtcs))}
	for _, d := range e.dtcs {
		out = append(out, byte(d.Raw>>8), byte(d.Raw))
	}
	return single(positive(req[0], out...))
}

func obd2ClearDTCs(e *ECU, req []byte) []Reply {
	e.dtcs = nil
	return single(positive(req[0]))
}

func obd2Service09(e *ECU, req []byte) []Reply {
	if len(req) < 2 {
		return single(e.negative(req[0], 0x12))
	}
	switch pid := req[1]; pid {
	case 0x00:
		// VIN, calibration id and CVN supported
		return single(positive(req[0], pid, 0x54, 0x00, 0x00, 0x00))
	case 0x02:
		return single(positive(req[0], append([]byte{pid, 0x01}, []byte(e.vin)...)...))
	case 0x04:
		calID := make([]byte, 16)
		copy(calID, "CAL07R32")
		return single(positive(req[0], append([]byte{pid, 0x01}, calID...)...))
	case 0x06:
		return single(positive(req[0], pid, 0x01, 0x11, 0x22, 0x33, 0x44))
	}
	return single(e.negative(req[0], 0x12))
}
