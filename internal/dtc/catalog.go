package dtc

// definition is one catalog entry: description, whether it illuminates the
// MIL once confirmed, and whether it is emission-related (and therefore
// eligible to go permanent).
type definition struct {
	description     string
	milIlluminate   bool
	emissionRelated bool
}

// Catalog is the set of DTC codes this emulator knows how to inject.
// Codes outside this table are rejected by Registry.Inject.
var Catalog = map[string]definition{
	"P0300": {"Random/Multiple Cylinder Misfire Detected", true, true},
	"P0301": {"Cylinder 1 Misfire Detected", true, true},
	"P0302": {"Cylinder 2 Misfire Detected", true, true},
	"P0303": {"Cylinder 3 Misfire Detected", true, true},
	"P0304": {"Cylinder 4 Misfire Detected", true, true},

	"P0171": {"System Too Lean (Bank 1)", true, true},
	"P0172": {"System Too Rich (Bank 1)", true, true},
	"P0174": {"System Too Lean (Bank 2)", true, true},
	"P0175": {"System Too Rich (Bank 2)", true, true},

	"P0128": {"Coolant Thermostat Below Regulating Temperature", true, true},

	"P0420": {"Catalyst System Efficiency Below Threshold (Bank 1)", true, true},
	"P0430": {"Catalyst System Efficiency Below Threshold (Bank 2)", true, true},

	"P0440": {"Evaporative Emission Control System Malfunction", true, true},
	"P0442": {"Evaporative Emission Control System Leak Detected (Small Leak)", true, true},
	"P0443": {"Evaporative Emission Control System Purge Valve Circuit Malfunction", true, true},
	"P0446": {"Evaporative Emission Control System Vent Control Circuit Malfunction", true, true},

	"P0130": {"O2 Sensor Circuit Malfunction (Bank 1, Sensor 1)", true, true},
	"P0131": {"O2 Sensor Circuit Low Voltage (Bank 1, Sensor 1)", true, true},
	"P0132": {"O2 Sensor Circuit High Voltage (Bank 1, Sensor 1)", true, true},
	"P0133": {"O2 Sensor Circuit Slow Response (Bank 1, Sensor 1)", true, true},
	"P0134": {"O2 Sensor Circuit No Activity Detected (Bank 1, Sensor 1)", true, true},

	"P0100": {"Mass or Volume Air Flow Circuit Malfunction", true, false},
	"P0101": {"Mass or Volume Air Flow Circuit Range/Performance Problem", true, false},
	"P0102": {"Mass or Volume Air Flow Circuit Low Input", true, false},
	"P0103": {"Mass or Volume Air Flow Circuit High Input", true, false},

	"P0562": {"System Voltage Low", true, false},
	"P0563": {"System Voltage High", true, false},

	"P0401": {"Exhaust Gas Recirculation Flow Insufficient Detected", true, true},
	"P0402": {"Exhaust Gas Recirculation Flow Excessive Detected", true, true},

	"P0700": {"Transmission Control System Malfunction", false, false},
	"P0715": {"Input/Turbine Speed Sensor Circuit Malfunction", false, false},
	"P0720": {"Output Speed Sensor Circuit Malfunction", false, false},

	"P1000": {"OBD System Readiness Test Not Complete", false, false},
}
