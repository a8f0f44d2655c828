package obd

func (d *Dispatcher) mode01(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x01, 0x12)
	}
	pid := request[1]
	if d.restricted != nil && pid != 0x00 && pid != 0x20 && pid != 0x40 && !d.restricted[pid] {
		return negResponse(0x01, 0x12)
	}
	snap := d.sim.Snapshot()
	dc := d.sim.DriveCycle()

	switch pid {
	case 0x00: // supported PIDs 01-20
		return append([]byte{0x41, 0x00}, d.mask00[:]...)

	case 0x01: // monitor status: MIL, DTC count, readiness
		dtcCount := d.registry.Count()
		if dtcCount > 127 {
			dtcCount = 127
		}
		byteA := byte(dtcCount)
		if d.registry.IsMILOn() {
			byteA |= 0x80
		}

		// Byte B: bit0=misfire bit1=fuel bit2=components; set means
		// incomplete (inverted-complete convention).
		byteB := byte(0x07)
		if dc.MisfireMonitorComplete {
			byteB &^= 0x01
		}
		if dc.FuelSystemMonitorComplete {
			byteB &^= 0x02
		}
		if dc.ComponentMonitorComplete {
			byteB &^= 0x04
		}

		byteC := byte(0x0F)
		if dc.CatalystMonitorComplete {
			byteC &^= 0x01
		}
		if dc.HeatedCatalystMonitorComplete {
			byteC &^= 0x02
		}
		if dc.EvapSystemMonitorComplete {
			byteC &^= 0x04
		}
		if dc.SecondaryAirMonitorComplete {
			byteC &^= 0x08
		}

		byteD := byte(0x07)
		if dc.OxygenSensorMonitorComplete {
			byteD &^= 0x01
		}
		if dc.OxygenSensorHeaterComplete {
			byteD &^= 0x02
		}
		if dc.EGRSystemMonitorComplete {
			byteD &^= 0x04
		}

		return []byte{0x41, 0x01, byteA, byteB, byteC, byteD}

	case 0x03: // fuel system status: closed loop, O2 sensor
		return []byte{0x41, 0x03, 0x02, 0x00}

	case 0x04:
		return []byte{0x41, 0x04, scaleByte(snap.EngineLoad, 100, 255)}

	case 0x05:
		return []byte{0x41, 0x05, tempByte(snap.CoolantTemp)}

	case 0x06:
		return []byte{0x41, 0x06, trimByte(snap.ShortTermFuelTrim)}

	case 0x07:
		return []byte{0x41, 0x07, trimByte(snap.LongTermFuelTrim)}

	case 0x0B:
		return []byte{0x41, 0x0B, byte(clampInt(int(30+snap.EngineLoad*0.7), 0, 255))}

	case 0x0C:
		v := clampInt(int(snap.RPM*4), 0, 0xFFFF)
		return []byte{0x41, 0x0C, byte(v >> 8), byte(v)}

	case 0x0D:
		return []byte{0x41, 0x0D, byte(clampInt(int(snap.VehicleSpeed), 0, 255))}

	case 0x0E:
		return []byte{0x41, 0x0E, byte(clampInt(int((snap.TimingAdvance+64)*2), 0, 255))}

	case 0x0F:
		return []byte{0x41, 0x0F, tempByte(snap.IntakeAirTemp)}

	case 0x10:
		v := clampInt(int(snap.MAF*100), 0, 0xFFFF)
		return []byte{0x41, 0x10, byte(v >> 8), byte(v)}

	case 0x11:
		return []byte{0x41, 0x11, scaleByte(snap.ThrottlePosition, 100, 255)}

	case 0x1C: // OBD standard: OBD-II as defined by CARB
		return []byte{0x41, 0x1C, 0x07}

	case 0x1F:
		v := clampInt(int(snap.EngineRuntime.Seconds()), 0, 0xFFFF)
		return []byte{0x41, 0x1F, byte(v >> 8), byte(v)}

	case 0x20: // supported PIDs 21-40
		return append([]byte{0x41, 0x20}, d.mask20[:]...)

	case 0x21:
		v := clampInt(int(snap.DistanceWithMIL), 0, 0xFFFF)
		return []byte{0x41, 0x21, byte(v >> 8), byte(v)}

	case 0x23:
		v := clampInt(int(snap.FuelPressure*10), 0, 0xFFFF)
		return []byte{0x41, 0x23, byte(v >> 8), byte(v)}

	case 0x2F:
		return []byte{0x41, 0x2F, scaleByte(snap.FuelLevel, 100, 255)}

	case 0x30:
		return []byte{0x41, 0x30, byte(clampInt(snap.WarmupsSinceClear, 0, 255))}

	case 0x31:
		v := clampInt(int(snap.DistanceSinceClear), 0, 0xFFFF)
		return []byte{0x41, 0x31, byte(v >> 8), byte(v)}

	case 0x33:
		return []byte{0x41, 0x33, byte(clampInt(int(snap.BarometricPressure), 0, 255))}

	case 0x40: // supported PIDs 41-60
		return append([]byte{0x41, 0x40}, d.mask40[:]...)

	case 0x42:
		v := clampInt(int(snap.BatteryVoltage*1000), 0, 0xFFFF)
		return []byte{0x41, 0x42, byte(v >> 8), byte(v)}

	case 0x5C: // oil temp approximated from coolant
		return []byte{0x41, 0x5C, byte(clampInt(int(snap.CoolantTemp+10+40), 0, 255))}

	default:
		return negResponse(0x01, 0x12)
	}
}

func scaleByte(v, max100 float64, scale int) byte {
	return byte(clampInt(int(v*float64(scale)/max100), 0, scale))
}

func tempByte(celsius float64) byte {
	return byte(clampInt(int(celsius+40), 0, 255))
}

func trimByte(trimPct float64) byte {
	return byte(clampInt(int((trimPct+100)*128/100), 0, 255))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
