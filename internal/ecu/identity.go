// Package ecu binds one electronic control unit's sensor model, DTC
// registry, OBD-II dispatcher, and UDS engine to a CAN address pair, and
// runs its ISO-TP segmentation over a shared bus.
package ecu

// Kind names the ECU's role on the bus.
type Kind string

const (
	KindEngine       Kind = "engine"
	KindTransmission Kind = "transmission"
	KindABS          Kind = "abs"
	KindBody         Kind = "body"
)

// FunctionalBroadcast is the OBD-II functional request address every
// OBD-capable ECU listens on in addition to its own physical request address
// (see MatchesAddress).
const FunctionalBroadcast uint32 = 0x7DF

// Identity is one ECU's address pair and capabilities.
type Identity struct {
	Kind               Kind
	Name               string
	RequestID          uint32
	ResponseID         uint32
	FunctionalAddress  uint32
	SupportsOBD        bool
	SupportsUDS        bool
	SerialNumber       string
	SoftwareVersion    string
	HardwareVersion    string
	DTCPrefix          string // e.g. "P0" engine, "P07" transmission, "C0" ABS
}

// MatchesAddress reports whether this ECU answers requests sent to address:
// always its physical request ID, and the functional broadcast address only
// if it supports OBD-II (functional addressing is an OBD-II convention UDS
// traffic never uses).
func (id Identity) MatchesAddress(address uint32) bool {
	if address == id.RequestID {
		return true
	}
	return id.SupportsOBD && address == id.FunctionalAddress
}

// EngineIdentity is the stock Engine Control Unit preset.
func EngineIdentity() Identity {
	return Identity{
		Kind:              KindEngine,
		Name:              "Engine Control Unit",
		RequestID:         0x7E0,
		ResponseID:        0x7E8,
		FunctionalAddress: FunctionalBroadcast,
		SupportsOBD:       true,
		SupportsUDS:       true,
		SerialNumber:      "ENG-SN-123456",
		SoftwareVersion:   "ENG-SW-2.0.0",
		HardwareVersion:   "ENG-HW-1.0",
		DTCPrefix:         "P0",
	}
}

// TransmissionIdentity is the stock Transmission Control Unit preset.
func TransmissionIdentity() Identity {
	return Identity{
		Kind:              KindTransmission,
		Name:              "Transmission Control Unit",
		RequestID:         0x7E1,
		ResponseID:        0x7E9,
		FunctionalAddress: FunctionalBroadcast,
		SupportsOBD:       false,
		SupportsUDS:       true,
		SerialNumber:      "TCM-SN-789012",
		SoftwareVersion:   "TCM-SW-1.5.0",
		HardwareVersion:   "TCM-HW-1.0",
		DTCPrefix:         "P07",
	}
}

// ABSIdentity is the stock ABS/ESP Control Unit preset.
func ABSIdentity() Identity {
	return Identity{
		Kind:              KindABS,
		Name:              "ABS/ESP Control Unit",
		RequestID:         0x7E2,
		ResponseID:        0x7EA,
		FunctionalAddress: FunctionalBroadcast,
		SupportsOBD:       false,
		SupportsUDS:       true,
		SerialNumber:      "ABS-SN-345678",
		SoftwareVersion:   "ABS-SW-3.0.0",
		HardwareVersion:   "ABS-HW-2.0",
		DTCPrefix:         "C0",
	}
}
