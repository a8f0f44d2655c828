// Package config loads the YAML vehicle profile that parameterizes a
// simulated diagnostic endpoint: sensor calibration, the bus's ECU roster,
// and the optional capture/telemetry/control surfaces.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/obdsim/vecu/internal/ecu"
	"github.com/obdsim/vecu/internal/obd"
	"github.com/obdsim/vecu/internal/sensor"
)

// Profile is the full vehicle configuration document.
type Profile struct {
	Vehicle struct {
		VIN           string `yaml:"vin"`
		Make          string `yaml:"make"`
		Model         string `yaml:"model"`
		Year          int    `yaml:"year"`
		CalibrationID string `yaml:"calibration_id"`
	} `yaml:"vehicle"`

	Sensor struct {
		RPMIdle           float64 `yaml:"idle_rpm"`
		RPMMax            float64 `yaml:"max_rpm"`
		CoolantTempNormal float64 `yaml:"normal_coolant_temp"`
		FuelCapacityLitre float64 `yaml:"fuel_capacity"`
		AmbientTemp       float64 `yaml:"ambient_temp"`
		GearRatio         float64 `yaml:"gear_ratio"`
	} `yaml:"sensor"`

	Bus struct {
		Interface string `yaml:"interface"` // CAN interface name, e.g. "can0" or "vcan0"
	} `yaml:"bus"`

	Serial struct {
		Enabled  bool   `yaml:"enabled"`
		Device   string `yaml:"device"`
		BaudRate int    `yaml:"baud_rate"`
	} `yaml:"serial"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Capture struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"capture"`

	Telemetry struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Org     string `yaml:"org"`
		Bucket  string `yaml:"bucket"`
		Token   string `yaml:"token"`
	} `yaml:"telemetry"`

	ECUs []ECUProfile `yaml:"ecus"`

	// PresetDTCs maps an ECU name to the codes it should boot with already
	// detected, for scenario setup without a control-surface round trip.
	PresetDTCs map[string][]string `yaml:"preset_dtcs"`

	// SupportedPIDs optionally narrows which OBD PIDs the fleet
	// advertises and answers, across both mode 01 and mode 09, as hex
	// PID strings ("0C" or "0x0C"). Empty keeps every PID each
	// dispatcher implements.
	SupportedPIDs []string `yaml:"supported_pids"`

	// UDSDIDs adds to or overrides entries in the UDS Data Identifier
	// table. Keys are hex DID strings ("F190"); values are hex-encoded
	// payload bytes ("4A313233").
	UDSDIDs map[string]string `yaml:"uds_dids"`
}

// ECUProfile describes one bus member. RequestID/ResponseID/FunctionalAddress
// accept decimal or "0x"-prefixed hex.
type ECUProfile struct {
	Kind              string `yaml:"kind"`
	Name              string `yaml:"name"`
	RequestID         string `yaml:"request_id"`
	ResponseID        string `yaml:"response_id"`
	FunctionalAddress string `yaml:"functional_address"`
	SupportsOBD       bool   `yaml:"supports_obd"`
	SupportsUDS       bool   `yaml:"supports_uds"`
	DTCPrefix         string `yaml:"dtc_prefix"`
	SerialNumber      string `yaml:"serial_number"`
	SoftwareVersion   string `yaml:"software_version"`
	HardwareVersion   string `yaml:"hardware_version"`
}

// Load reads and parses a vehicle profile YAML document.
func Load(filename string) (*Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading profile file: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parsing profile file: %w", err)
	}
	return &p, nil
}

// SensorConfig translates the profile's calibration section into a
// sensor.Config, falling back to sensor.DefaultConfig for any zero field.
func (p *Profile) SensorConfig() sensor.Config {
	cfg := sensor.DefaultConfig()
	if p.Sensor.RPMIdle != 0 {
		cfg.RPMIdle = p.Sensor.RPMIdle
	}
	if p.Sensor.RPMMax != 0 {
		cfg.RPMMax = p.Sensor.RPMMax
	}
	if p.Sensor.CoolantTempNormal != 0 {
		cfg.CoolantTempNormal = p.Sensor.CoolantTempNormal
	}
	if p.Sensor.FuelCapacityLitre != 0 {
		cfg.FuelCapacityLitre = p.Sensor.FuelCapacityLitre
	}
	if p.Sensor.AmbientTemp != 0 {
		cfg.AmbientTemp = p.Sensor.AmbientTemp
	}
	if p.Sensor.GearRatio != 0 {
		cfg.GearRatio = p.Sensor.GearRatio
	}
	return cfg
}

// VehicleInfo translates the profile's identity fields, supported-PID
// restriction, and DID overlay into an ecu.VehicleInfo.
func (p *Profile) VehicleInfo() (ecu.VehicleInfo, error) {
	vin := p.Vehicle.VIN
	if vin == "" {
		vin = obd.DefaultIdentity().VIN
	}
	calID := p.Vehicle.CalibrationID
	if calID == "" {
		calID = obd.DefaultIdentity().CalibrationID
	}
	pids, err := p.SupportedPIDList()
	if err != nil {
		return ecu.VehicleInfo{}, err
	}
	dids, err := p.ExtraDIDs()
	if err != nil {
		return ecu.VehicleInfo{}, err
	}
	return ecu.VehicleInfo{
		VIN:           vin,
		CalibrationID: calID,
		CVN:           obd.DefaultIdentity().CVN,
		SupportedPIDs: pids,
		ExtraDIDs:     dids,
	}, nil
}

// SupportedPIDList parses SupportedPIDs into raw PID bytes.
func (p *Profile) SupportedPIDList() ([]byte, error) {
	if len(p.SupportedPIDs) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, len(p.SupportedPIDs))
	for _, s := range p.SupportedPIDs {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("config: supported_pids entry %q: %w", s, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// ExtraDIDs parses UDSDIDs into the raw overlay uds.New merges onto the
// built-in DID table.
func (p *Profile) ExtraDIDs() (map[uint16][]byte, error) {
	if len(p.UDSDIDs) == 0 {
		return nil, nil
	}
	out := make(map[uint16][]byte, len(p.UDSDIDs))
	for k, v := range p.UDSDIDs {
		did, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(k, "0x"), "0X"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("config: uds_dids key %q: %w", k, err)
		}
		data, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("config: uds_dids value %q for DID %s: %w", v, k, err)
		}
		out[uint16(did)] = data
	}
	return out, nil
}

// Identities builds the ECU roster: the profile's explicit list if given,
// otherwise the stock engine/transmission/ABS three-ECU fleet.
func (p *Profile) Identities() ([]ecu.Identity, error) {
	if len(p.ECUs) == 0 {
		return []ecu.Identity{ecu.EngineIdentity(), ecu.TransmissionIdentity(), ecu.ABSIdentity()}, nil
	}
	out := make([]ecu.Identity, 0, len(p.ECUs))
	for _, e := range p.ECUs {
		id, err := e.toIdentity()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (e ECUProfile) toIdentity() (ecu.Identity, error) {
	reqID, err := parseAddress(e.RequestID)
	if err != nil {
		return ecu.Identity{}, fmt.Errorf("config: ecu %q request_id: %w", e.Name, err)
	}
	respID, err := parseAddress(e.ResponseID)
	if err != nil {
		return ecu.Identity{}, fmt.Errorf("config: ecu %q response_id: %w", e.Name, err)
	}
	funcAddr := ecu.FunctionalBroadcast
	if e.FunctionalAddress != "" {
		funcAddr, err = parseAddress(e.FunctionalAddress)
		if err != nil {
			return ecu.Identity{}, fmt.Errorf("config: ecu %q functional_address: %w", e.Name, err)
		}
	}
	return ecu.Identity{
		Kind:              ecu.Kind(e.Kind),
		Name:              e.Name,
		RequestID:         reqID,
		ResponseID:        respID,
		FunctionalAddress: funcAddr,
		SupportsOBD:       e.SupportsOBD,
		SupportsUDS:       e.SupportsUDS,
		DTCPrefix:         e.DTCPrefix,
		SerialNumber:      e.SerialNumber,
		SoftwareVersion:   e.SoftwareVersion,
		HardwareVersion:   e.HardwareVersion,
	}, nil
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid CAN address %q: %w", s, err)
	}
	return uint32(v), nil
}
