package obd

import "github.com/obdsim/vecu/internal/dtc"

func (d *Dispatcher) mode03() []byte {
	confirmed := d.registry.Confirmed()
	permanent := d.registry.Permanent()
	all := append(append([]dtc.Code{}, confirmed...), permanent...)
	if len(all) == 0 {
		return []byte{0x43, 0x00}
	}
	return append([]byte{0x43}, dtc.FormatResponse(all)...)
}

func (d *Dispatcher) mode04() []byte {
	d.registry.Clear(false)
	d.sim.ResetClearCounters()
	return []byte{0x44}
}

func (d *Dispatcher) mode06() []byte {
	// Simplified on-board test result for O2 sensor monitor bank 1 sensor 1:
	// [mode+0x40][TID][TestID][min][max][value][limit].
	return []byte{0x46, 0x01, 0x01, 0x00, 0x0A, 0x00, 0xFF, 0x00, 0x45, 0x00, 0xFA}
}

func (d *Dispatcher) mode07() []byte {
	pending := d.registry.Pending()
	if len(pending) == 0 {
		return []byte{0x47, 0x00}
	}
	return append([]byte{0x47}, dtc.FormatResponse(pending)...)
}

func (d *Dispatcher) mode08(request []byte) []byte {
	if len(request) < 2 {
		return negResponse(0x08, 0x12)
	}
	return []byte{0x48, request[1]} // echo the test ID back
}

func (d *Dispatcher) mode0A() []byte {
	permanent := d.registry.Permanent()
	if len(permanent) == 0 {
		return []byte{0x4A, 0x00}
	}
	return append([]byte{0x4A}, dtc.FormatResponse(permanent)...)
}
