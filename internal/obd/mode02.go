package obd

// mode02 answers freeze-frame requests. Only frame number 0 is ever stored
// (this emulator keeps one freeze frame per DTC, not per frame index), and
// only the first confirmed DTC's freeze frame is exposed, matching the
// single-frame-store behavior of a typical OBD-II ECU.
func (d *Dispatcher) mode02(request []byte) []byte {
	if len(request) < 3 {
		return negResponse(0x02, 0x12)
	}
	pid := request[1]
	frameNum := request[2]

	confirmed := d.registry.Confirmed()
	if len(confirmed) == 0 || frameNum > 0 {
		return negResponse(0x02, 0x12)
	}

	ff, ok := d.registry.FreezeFrameFor(confirmed[0].Code)
	if !ok {
		return negResponse(0x02, 0x12)
	}

	switch pid {
	case 0x0C:
		v := clampInt(int(ff.RPM*4), 0, 0xFFFF)
		return []byte{0x42, 0x0C, frameNum, byte(v >> 8), byte(v)}
	case 0x0D:
		return []byte{0x42, 0x0D, frameNum, byte(clampInt(int(ff.VehicleSpeed), 0, 255))}
	case 0x05:
		return []byte{0x42, 0x05, frameNum, tempByte(ff.CoolantTemp)}
	case 0x04:
		return []byte{0x42, 0x04, frameNum, scaleByte(ff.EngineLoad, 100, 255)}
	default:
		return negResponse(0x02, 0x12)
	}
}
