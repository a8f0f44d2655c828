package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/obdsim/vecu/internal/clock"
)

// Config tunes the simulator's engine and fuel parameters; it is normally
// loaded from a vehicle profile.
type Config struct {
	RPMIdle           float64
	RPMMax            float64
	CoolantTempNormal float64
	FuelCapacityLitre float64
	AmbientTemp       float64
	GearRatio         float64
}

// DefaultConfig returns the parameters of a generic gasoline passenger car.
func DefaultConfig() Config {
	return Config{
		RPMIdle:           750,
		RPMMax:            6500,
		CoolantTempNormal: 90,
		FuelCapacityLitre: 50,
		AmbientTemp:       20,
		GearRatio:         3.5,
	}
}

// Simulator advances one vehicle's sensor state over time. It is driven by
// repeated Tick calls from a single goroutine; reads (Snapshot/DriveCycle)
// may come from other goroutines and are synchronized internally.
type Simulator struct {
	cfg   Config
	clock clock.Clock
	rng   *rand.Rand

	mu          sync.Mutex
	state       Snapshot
	driveCycle  DriveCycle
	prevSpeed   float64
	engineStart time.Time
}

// New builds a Simulator with the engine off and tanks/temps at rest values.
// rng should be seeded explicitly by the caller for reproducible runs.
func New(cfg Config, clk clock.Clock, rng *rand.Rand) *Simulator {
	return &Simulator{
		cfg:   cfg,
		clock: clk,
		rng:   rng,
		state: Snapshot{
			EngineState:        EngineOff,
			CoolantTemp:        cfg.AmbientTemp,
			IntakeAirTemp:      cfg.AmbientTemp + 5,
			FuelLevel:          75,
			FuelPressure:       380,
			BatteryVoltage:     12.6,
			O2Voltage:          0.45,
			CatalystTemp:       400,
			BarometricPressure: 101.3,
		},
	}
}

// Tick advances the simulation by dt.
func (s *Simulator) Tick(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.EngineState {
	case EngineRunning:
		s.updateRunning(dt)
		s.updateReadinessMonitors()
	case EngineCranking:
		s.updateCranking(dt)
	case EngineOff, EngineStalling:
		s.updateOff(dt)
	}
}

func (s *Simulator) updateRunning(dt time.Duration) {
	secs := dt.Seconds()
	s.state.EngineRuntime += dt

	throttleFactor := s.state.ThrottlePosition / 100.0
	targetRPM := s.cfg.RPMIdle + (s.cfg.RPMMax-s.cfg.RPMIdle)*throttleFactor

	const rpmTau = 0.5
	s.state.RPM += (targetRPM - s.state.RPM) * (secs / rpmTau)
	s.state.RPM += s.gauss(0, 10)
	s.state.RPM = clampF(s.state.RPM, s.cfg.RPMIdle*0.9, s.cfg.RPMMax)

	baseLoad := throttleFactor * 100
	rpmFactor := (s.state.RPM - s.cfg.RPMIdle) / (s.cfg.RPMMax - s.cfg.RPMIdle)
	speedFactor := math.Min(1.0, s.state.VehicleSpeed/120.0)
	s.state.EngineLoad = baseLoad * (0.5 + 0.5*rpmFactor) * (0.7 + 0.3*speedFactor)
	s.state.EngineLoad = clampF(s.state.EngineLoad, 0, 100)

	if s.state.RPM > s.cfg.RPMIdle {
		targetSpeed := (s.state.RPM - s.cfg.RPMIdle) / s.cfg.GearRatio / 60.0 * 10
		s.state.VehicleSpeed += (targetSpeed - s.state.VehicleSpeed) * secs
	} else {
		s.state.VehicleSpeed = math.Max(0, s.state.VehicleSpeed-5*secs)
	}

	distanceKm := s.state.VehicleSpeed * (secs / 3600.0)
	s.state.DistanceTraveled += distanceKm
	s.state.DistanceSinceClear += distanceKm
	if s.state.MILOn {
		s.state.DistanceWithMIL += distanceKm
	}

	s.state.MAF = (s.state.RPM / 1000.0) * (s.state.EngineLoad / 100.0) * 5.0
	s.state.MAF += s.gauss(0, 0.1)
	s.state.MAF = math.Max(0, s.state.MAF)

	if s.state.CoolantTemp < s.cfg.CoolantTempNormal {
		warmupRate := 2.0 + (s.state.EngineLoad/100.0)*3.0
		s.state.CoolantTemp += warmupRate * secs
	} else {
		s.state.CoolantTemp = s.cfg.CoolantTempNormal + s.gauss(0, 0.5)
	}

	s.state.IntakeAirTemp = s.cfg.AmbientTemp + s.state.EngineLoad*0.3

	rpmAdvance := (s.state.RPM / s.cfg.RPMMax) * 30
	loadReduction := (100 - s.state.EngineLoad) / 100.0 * 10
	s.state.TimingAdvance = rpmAdvance + loadReduction

	consumptionRate := s.state.EngineLoad*0.01 + (s.state.RPM/1000.0)*0.05
	fuelConsumed := consumptionRate * (secs / 3600.0)
	s.state.FuelLevel -= (fuelConsumed / s.cfg.FuelCapacityLitre) * 100
	s.state.FuelLevel = math.Max(0, s.state.FuelLevel)
	s.state.FuelRate = consumptionRate

	const lambdaTarget = 0.45
	oscillation := math.Sin(s.state.EngineRuntime.Seconds()*2) * 0.05
	s.state.O2Voltage = lambdaTarget + oscillation

	switch {
	case s.state.O2Voltage < 0.4:
		s.state.ShortTermFuelTrim = math.Min(25, s.state.ShortTermFuelTrim+secs*2)
	case s.state.O2Voltage > 0.5:
		s.state.ShortTermFuelTrim = math.Max(-25, s.state.ShortTermFuelTrim-secs*2)
	}
	s.state.LongTermFuelTrim += (s.state.ShortTermFuelTrim - s.state.LongTermFuelTrim) * secs * 0.1

	if s.state.CoolantTemp > 70 {
		targetCatalyst := 400 + s.state.EngineLoad*2
		s.state.CatalystTemp += (targetCatalyst - s.state.CatalystTemp) * secs * 0.1
	}

	baseVoltage := 12.6
	if s.state.RPM > s.cfg.RPMIdle {
		baseVoltage = 14.2
	}
	s.state.BatteryVoltage = baseVoltage - (s.state.EngineLoad/100.0)*0.3

	speedChange := s.state.VehicleSpeed - s.prevSpeed
	switch {
	case speedChange > 5:
		s.driveCycle.AccelCount++
	case speedChange < -5:
		s.driveCycle.DecelCount++
	}

	switch {
	case s.state.VehicleSpeed < 5:
		s.driveCycle.IdleTime += dt
	case s.state.VehicleSpeed > 50 && s.state.VehicleSpeed < 80:
		s.driveCycle.CruiseTime += dt
	}

	s.prevSpeed = s.state.VehicleSpeed
}

func (s *Simulator) updateCranking(dt time.Duration) {
	s.state.RPM = math.Min(400, s.state.RPM+200*dt.Seconds())
	if s.state.RPM >= 300 {
		s.state.EngineState = EngineRunning
		s.state.RPM = s.cfg.RPMIdle
		s.engineStart = s.clock.Now()

		if s.state.CoolantTemp < 50 {
			s.driveCycle.ColdStarts++
			s.state.WarmupsSinceClear++
		}
	}
}

func (s *Simulator) updateOff(dt time.Duration) {
	if s.state.CoolantTemp > s.cfg.AmbientTemp {
		const cooldownRate = 0.5
		s.state.CoolantTemp = math.Max(s.cfg.AmbientTemp, s.state.CoolantTemp-cooldownRate*dt.Seconds())
	}
	s.state.RPM = 0
	s.state.VehicleSpeed = 0
	s.state.EngineLoad = 0
	s.state.MAF = 0
	s.state.FuelRate = 0
	s.state.BatteryVoltage = 12.6
	s.state.EngineRuntime = 0
}

func (s *Simulator) updateReadinessMonitors() {
	rt := s.state.EngineRuntime.Seconds()
	if rt > 10 {
		s.driveCycle.ComponentMonitorComplete = true
	}
	if rt > 30 && s.state.CoolantTemp > 70 {
		s.driveCycle.FuelSystemMonitorComplete = true
	}
	if rt > 60 {
		s.driveCycle.MisfireMonitorComplete = true
	}
	if s.state.CoolantTemp > 80 && rt > 45 {
		s.driveCycle.OxygenSensorMonitorComplete = true
		s.driveCycle.OxygenSensorHeaterComplete = true
	}
	if s.state.CatalystTemp > 400 && s.driveCycle.CruiseTime.Seconds() > 120 {
		s.driveCycle.CatalystMonitorComplete = true
		s.driveCycle.HeatedCatalystMonitorComplete = true
	}
	if s.driveCycle.CruiseTime.Seconds() > 60 && s.driveCycle.IdleTime.Seconds() > 30 {
		s.driveCycle.EvapSystemMonitorComplete = true
	}
	if s.driveCycle.CruiseTime.Seconds() > 180 {
		s.driveCycle.EGRSystemMonitorComplete = true
	}
}

// StartEngine requests a crank; a no-op unless the engine is currently off.
func (s *Simulator) StartEngine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.EngineState == EngineOff {
		s.state.EngineState = EngineCranking
		s.state.RPM = 100
	}
}

// StopEngine kills the engine immediately.
func (s *Simulator) StopEngine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.EngineState = EngineOff
	s.state.RPM = 0
}

// SetThrottle pins throttle position to [0,100].
func (s *Simulator) SetThrottle(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ThrottlePosition = clampF(pct, 0, 100)
}

// SetSpeed overrides vehicle speed directly, for control-surface test hooks.
func (s *Simulator) SetSpeed(kph float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.VehicleSpeed = math.Max(0, kph)
	if kph > 0 && s.state.EngineState == EngineRunning {
		s.state.RPM = s.cfg.RPMIdle + kph*s.cfg.GearRatio*6
	}
}

// SetRPM overrides engine RPM directly, for control-surface test hooks.
func (s *Simulator) SetRPM(rpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RPM = clampF(rpm, 0, s.cfg.RPMMax)
}

// SetMIL flips the malfunction-indicator-lamp flag; the DTC registry owns
// this decision and calls in whenever it changes.
func (s *Simulator) SetMIL(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.MILOn = on
}

// Snapshot returns a copy of the current sensor readings.
func (s *Simulator) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DriveCycle returns a copy of the current drive-cycle bookkeeping.
func (s *Simulator) DriveCycle() DriveCycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driveCycle
}

// ResetClearCounters restores the distance-since-clear, distance-with-MIL,
// warmup, and drive cycle counters a DTC clear resets, without touching
// live engine state.
func (s *Simulator) ResetClearCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DistanceSinceClear = 0
	s.state.DistanceWithMIL = 0
	s.state.WarmupsSinceClear = 0
	s.driveCycle.Reset()
}

func (s *Simulator) gauss(mean, stdev float64) float64 {
	if s.rng == nil {
		return mean
	}
	return mean + stdev*s.rng.NormFloat64()
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
