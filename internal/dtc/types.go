// Package dtc manages diagnostic trouble codes: their pending/confirmed/
// permanent/history lifecycle, freeze frames, and MIL logic.
package dtc

import (
	"time"

	"github.com/obdsim/vecu/internal/sensor"
)

// State is a DTC's position in its lifecycle.
type State int

const (
	StatePending State = iota
	StateConfirmed
	StatePermanent
	StateHistory
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StatePermanent:
		return "permanent"
	case StateHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Category is the DTC letter prefix (P/C/B/U).
type Category byte

const (
	Powertrain Category = 'P'
	Chassis    Category = 'C'
	Body       Category = 'B'
	Network    Category = 'U'
)

// FreezeFrame is the sensor snapshot captured when a DTC was first set.
type FreezeFrame struct {
	Timestamp         time.Time
	RPM               float64
	VehicleSpeed      float64
	CoolantTemp       float64
	EngineLoad        float64
	ThrottlePosition  float64
	FuelPressure      float64
	MAF               float64
	ShortTermFuelTrim float64
	LongTermFuelTrim  float64
	TimingAdvance     float64
}

func newFreezeFrame(now time.Time, s sensor.Snapshot) FreezeFrame {
	return FreezeFrame{
		Timestamp:         now,
		RPM:               s.RPM,
		VehicleSpeed:      s.VehicleSpeed,
		CoolantTemp:       s.CoolantTemp,
		EngineLoad:        s.EngineLoad,
		ThrottlePosition:  s.ThrottlePosition,
		FuelPressure:      s.FuelPressure,
		MAF:               s.MAF,
		ShortTermFuelTrim: s.ShortTermFuelTrim,
		LongTermFuelTrim:  s.LongTermFuelTrim,
		TimingAdvance:     s.TimingAdvance,
	}
}

// Code is one diagnostic trouble code and its lifecycle metadata.
type Code struct {
	Code            string // e.g. "P0420"
	Description     string
	State           State
	DetectionCount  int
	FirstDetected   time.Time
	LastDetected    time.Time
	FreezeFrame     *FreezeFrame
	MILIlluminate   bool
	EmissionRelated bool
}

// Category returns the DTC's letter-prefix classification.
func (c Code) Category() Category {
	switch c.Code[0] {
	case 'P':
		return Powertrain
	case 'C':
		return Chassis
	case 'B':
		return Body
	case 'U':
		return Network
	default:
		return Powertrain
	}
}

// Bytes renders the code in the 2-byte OBD-II/UDS wire format: the top two
// bits of the first byte select P/C/B/U, the rest pack the four decimal
// digits as nibbles.
func (c Code) Bytes() [2]byte {
	var typeBits byte
	switch c.Category() {
	case Powertrain:
		typeBits = 0
	case Chassis:
		typeBits = 1
	case Body:
		typeBits = 2
	case Network:
		typeBits = 3
	}
	digits := c.Code[1:]
	if len(digits) != 4 {
		return [2]byte{0, 0}
	}
	d := [4]byte{digits[0] - '0', digits[1] - '0', digits[2] - '0', digits[3] - '0'}
	b1 := (typeBits << 6) | (d[0] << 4) | d[1]
	b2 := (d[2] << 4) | d[3]
	return [2]byte{b1, b2}
}

// DecodeBytes inverts Bytes: it renders the 2-byte OBD-II/UDS wire encoding
// back into a code string such as "P0420".
func DecodeBytes(b [2]byte) string {
	categories := [4]byte{'P', 'C', 'B', 'U'}
	typeBits := b[0] >> 6
	d0 := (b[0] >> 4) & 0x03
	d1 := b[0] & 0x0F
	d2 := (b[1] >> 4) & 0x0F
	d3 := b[1] & 0x0F
	return string([]byte{categories[typeBits], '0' + d0, '0' + d1, '0' + d2, '0' + d3})
}
