// Package obd implements OBD-II service requests, modes 01 through 0A, atop
// the sensor simulator and DTC registry.
package obd

import (
	"github.com/obdsim/vecu/internal/dtc"
	"github.com/obdsim/vecu/internal/sensor"
)

// Identity carries the vehicle information mode 09 reports.
type Identity struct {
	VIN            string
	CalibrationID  string
	CVN            [4]byte
	ECUName        string

	// SupportedPIDs optionally narrows which PIDs this dispatcher
	// advertises and answers, across both mode 01 and mode 09, as raw
	// PID bytes (e.g. 0x0C). Nil keeps every PID the dispatcher
	// implements for each mode.
	SupportedPIDs []byte
}

// DefaultIdentity matches what the distilled emulator ships when a profile
// doesn't override it.
func DefaultIdentity() Identity {
	return Identity{
		VIN:           "1HGBH41JXMN109186",
		CalibrationID: "CALIB12345678",
		CVN:           [4]byte{0x12, 0x34, 0x56, 0x78},
		ECUName:       "ENGINE-ECU",
	}
}

// Dispatcher answers OBD-II requests (modes 01-0A) against one ECU's sensor
// simulator and DTC registry.
type Dispatcher struct {
	sim      *sensor.Simulator
	registry *dtc.Registry
	identity Identity

	// restricted/restricted09 are nil when Identity sets no override:
	// every built-in PID is answered and the masks keep New's fixed
	// defaults. Non-nil (possibly empty) once Identity narrows the set,
	// gating mode01/mode09 dispatch and the masks accordingly.
	restricted   map[byte]bool
	restricted09 map[byte]bool
	mask00       [4]byte // PID 0x00: supported PIDs 01-20
	mask20       [4]byte // PID 0x20: supported PIDs 21-40
	mask40       [4]byte // PID 0x40: supported PIDs 41-60
	mask09       byte    // mode 09 PID 0x00: supported PIDs 02/04/06/0A
}

// defaultSupportedPIDs lists every mode 01 PID this dispatcher implements.
func defaultSupportedPIDs() []byte {
	return []byte{
		0x01, 0x03, 0x04, 0x05, 0x06, 0x07, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
		0x10, 0x11, 0x1C, 0x1F, 0x21, 0x23, 0x2F, 0x30, 0x31, 0x33, 0x42, 0x5C,
	}
}

// defaultSupportedPIDs09 lists every mode 09 PID this dispatcher implements.
func defaultSupportedPIDs09() []byte {
	return []byte{0x02, 0x04, 0x06, 0x0A}
}

// pidSupportMask builds a standard 4-byte OBD-II PID-support bitmask: byte
// i, bit (7-b), reports whether PID base+8*i+b+1 is in supported.
func pidSupportMask(base byte, supported map[byte]bool) [4]byte {
	var mask [4]byte
	for i := 0; i < 32; i++ {
		pid := base + byte(i+1)
		if supported[pid] {
			mask[i/8] |= 1 << uint(7-i%8)
		}
	}
	return mask
}

// pid09SupportByte packs mode 09's four PIDs into the single-byte layout
// the dispatcher has always used: bits 6/4/2/0 for PIDs 02/04/06/0A.
func pid09SupportByte(supported map[byte]bool) byte {
	var b byte
	if supported[0x02] {
		b |= 1 << 6
	}
	if supported[0x04] {
		b |= 1 << 4
	}
	if supported[0x06] {
		b |= 1 << 2
	}
	if supported[0x0A] {
		b |= 1 << 0
	}
	return b
}

func toPIDSet(pids []byte) map[byte]bool {
	m := make(map[byte]bool, len(pids))
	for _, p := range pids {
		m[p] = true
	}
	return m
}

// intersectPIDs keeps only the members of universe that also appear in
// configured, so an override list never grants support for a PID this
// dispatcher doesn't actually implement.
func intersectPIDs(configured map[byte]bool, universe []byte) map[byte]bool {
	out := make(map[byte]bool)
	for _, p := range universe {
		if configured[p] {
			out[p] = true
		}
	}
	return out
}

// New builds a Dispatcher. With Identity.SupportedPIDs empty, every
// built-in PID is answered and PIDs 0x00/0x20/0x40 report the distilled
// emulator's fixed masks byte-for-byte. Those masks are not derived from
// defaultSupportedPIDs and do not match it exactly: they set PID 0x08, for
// example, and leave PID 0x1F clear.
func New(sim *sensor.Simulator, registry *dtc.Registry, identity Identity) *Dispatcher {
	d := &Dispatcher{
		sim: sim, registry: registry, identity: identity,
		mask00: [4]byte{0xBF, 0xBF, 0xA8, 0x91},
		mask20: [4]byte{0xA0, 0x05, 0xB0, 0x11},
		mask40: [4]byte{0x40, 0x00, 0x00, 0x00},
		mask09: 0x55,
	}
	if len(identity.SupportedPIDs) > 0 {
		configured := toPIDSet(identity.SupportedPIDs)

		d.restricted = intersectPIDs(configured, defaultSupportedPIDs())
		d.mask00 = pidSupportMask(0x00, d.restricted)
		d.mask20 = pidSupportMask(0x20, d.restricted)
		d.mask40 = pidSupportMask(0x40, d.restricted)

		d.restricted09 = intersectPIDs(configured, defaultSupportedPIDs09())
		d.mask09 = pid09SupportByte(d.restricted09)
	}
	return d
}

func negResponse(mode, nrc byte) []byte {
	return []byte{0x7F, mode, nrc}
}

// Process answers one OBD-II service request; request[0] is the mode byte.
// Returns nil only if request is too short to contain a mode byte at all.
func (d *Dispatcher) Process(request []byte) []byte {
	if len(request) < 1 {
		return nil
	}
	mode := request[0]
	switch mode {
	case 0x01:
		return d.mode01(request)
	case 0x02:
		return d.mode02(request)
	case 0x03:
		return d.mode03()
	case 0x04:
		return d.mode04()
	case 0x06:
		return d.mode06()
	case 0x07:
		return d.mode07()
	case 0x08:
		return d.mode08(request)
	case 0x09:
		return d.mode09(request)
	case 0x0A:
		return d.mode0A()
	default:
		return negResponse(mode, 0x11) // service not supported
	}
}
