package obd

func (d *Dispatcher) mode09(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x09, 0x12)
	}
	pid := request[1]
	if d.restricted09 != nil && pid != 0x00 && !d.restricted09[pid] {
		return negResponse(0x09, 0x12)
	}

	switch pid {
	case 0x00: // supported PIDs: 02, 04, 06, 0A
		return []byte{0x49, 0x00, d.mask09}

	case 0x02: // VIN, padded/truncated to 17 bytes
		return append([]byte{0x49, 0x02, 0x01}, fixedASCII(d.identity.VIN, 17)...)

	case 0x04: // calibration ID, padded/truncated to 16 bytes
		return append([]byte{0x49, 0x04, 0x01}, fixedASCII(d.identity.CalibrationID, 16)...)

	case 0x06: // calibration verification number
		cvn := d.identity.CVN
		return []byte{0x49, 0x06, 0x01, cvn[0], cvn[1], cvn[2], cvn[3]}

	case 0x0A: // ECU name, padded/truncated to 20 bytes
		return append([]byte{0x49, 0x0A, 0x01}, fixedASCII(d.identity.ECUName, 20)...)

	default:
		return negResponse(0x09, 0x12)
	}
}

func fixedASCII(s string, n int) []byte {
	b := []byte(s)
	if len(b) > n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
