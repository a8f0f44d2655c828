// Package analysis computes statistics and driving-behavior summaries from
// a recorded capture session.
package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/obdsim/vecu/internal/capture"
	"github.com/obdsim/vecu/internal/dtc"
)

// Analyzer processes a recorded session's exchanges to generate analysis
// results.
type Analyzer struct {
	exchanges []capture.Exchange
	vin       string
	analysis  *Analysis
	options   AnalyzerOptions
}

// AnalyzerOptions configures the analysis process
type AnalyzerOptions struct {
	RapidAccelThreshold float64       // km/h/s for rapid acceleration detection
	RapidDecelThreshold float64       // km/h/s for rapid deceleration detection
	IdleSpeedThreshold  float64       // km/h below which is considered idle
	CruiseThreshold     float64       // km/h/s variance for cruise detection
	MinPhaseTime        time.Duration // minimum duration for a driving phase
}

// DefaultOptions returns sensible default analyzer options
func DefaultOptions() AnalyzerOptions {
	return AnalyzerOptions{
		RapidAccelThreshold: 10.0, // 10 km/h per second
		RapidDecelThreshold: -8.0, // -8 km/h per second
		IdleSpeedThreshold:  3.0,  // 3 km/h
		CruiseThreshold:     2.0,  // 2 km/h/s variance
		MinPhaseTime:        3 * time.Second,
	}
}

// NewAnalyzer creates a new analyzer instance over a session's exchanges, as
// returned by capture.Recorder.Session. vin is reported in SessionInfo only;
// it isn't derivable from the exchanges themselves.
func NewAnalyzer(exchanges []capture.Exchange, vin string, options AnalyzerOptions) *Analyzer {
	return &Analyzer{
		exchanges: exchanges,
		vin:       vin,
		analysis:  &Analysis{},
		options:   options,
	}
}

// Analyze processes the session and returns analysis results
func (a *Analyzer) Analyze() (*Analysis, error) {
	if err := a.analyzeSessionInfo(); err != nil {
		return nil, fmt.Errorf("session info analysis failed: %w", err)
	}

	if err := a.analyzePerformance(); err != nil {
		return nil, fmt.Errorf("performance analysis failed: %w", err)
	}

	if err := a.analyzeDrivingBehavior(); err != nil {
		return nil, fmt.Errorf("driving behavior analysis failed: %w", err)
	}

	if err := a.analyzeCANActivity(); err != nil {
		return nil, fmt.Errorf("CAN activity analysis failed: %w", err)
	}

	if err := a.analyzeDiagnostics(); err != nil {
		return nil, fmt.Errorf("diagnostics analysis failed: %w", err)
	}

	return a.analysis, nil
}

func (a *Analyzer) analyzeSessionInfo() error {
	if len(a.exchanges) == 0 {
		return nil
	}
	a.analysis.SessionInfo.StartTime = a.exchanges[0].Timestamp
	a.analysis.SessionInfo.EndTime = a.exchanges[len(a.exchanges)-1].Timestamp
	a.analysis.SessionInfo.Duration = a.analysis.SessionInfo.EndTime.Sub(a.analysis.SessionInfo.StartTime)
	a.analysis.SessionInfo.VIN = a.vin
	a.analysis.SessionInfo.TotalExchanges = len(a.exchanges)
	return nil
}

// obdResponse reports the PID and payload of an OBD-II mode 01 response
// exchange (0x41 <pid> <data...>), or ok=false if e isn't one.
func obdResponse(e capture.Exchange) (pid byte, payload []byte, ok bool) {
	if e.Kind != "obd" || e.Direction != capture.DirectionTX || len(e.Data) < 2 {
		return 0, nil, false
	}
	if e.Data[0] != 0x41 {
		return 0, nil, false
	}
	return e.Data[1], e.Data[2:], true
}

func (a *Analyzer) analyzePerformance() error {
	var rpmValues, speedValues, tempValues []float64

	for _, e := range a.exchanges {
		pid, payload, ok := obdResponse(e)
		if !ok {
			continue
		}
		switch pid {
		case 0x0C: // RPM: (A*256+B)/4
			if len(payload) >= 2 {
				rpmValues = append(rpmValues, float64(int(payload[0])*256+int(payload[1]))/4)
			}
		case 0x0D: // vehicle speed: A
			if len(payload) >= 1 {
				speedValues = append(speedValues, float64(payload[0]))
			}
		case 0x05: // coolant temp: A-40
			if len(payload) >= 1 {
				tempValues = append(tempValues, float64(payload[0])-40)
			}
		}
	}

	a.analysis.Performance.RPM = CalculateStats(rpmValues)
	a.analysis.Performance.Speed = CalculateStats(speedValues)
	a.analysis.Performance.Temperature = CalculateStats(tempValues)

	duration := a.analysis.SessionInfo.Duration.Seconds()
	if duration > 0 {
		a.analysis.Performance.DataRate = float64(len(a.exchanges)) / duration
	}

	return nil
}

func (a *Analyzer) analyzeDrivingBehavior() error {
	var currentPhase *DrivingPhase
	var lastSpeed float64
	var lastTime time.Time

	for _, e := range a.exchanges {
		pid, payload, ok := obdResponse(e)
		if !ok || pid != 0x0D || len(payload) < 1 {
			continue
		}
		speed := float64(payload[0])

		if !lastTime.IsZero() {
			timeDiff := e.Timestamp.Sub(lastTime).Seconds()
			if timeDiff > 0 {
				acceleration := (speed - lastSpeed) / timeDiff

				phaseType := a.detectPhaseType(speed, acceleration)

				if currentPhase == nil || currentPhase.Type != phaseType {
					if currentPhase != nil {
						currentPhase.EndTime = e.Timestamp
						currentPhase.Duration = currentPhase.EndTime.Sub(currentPhase.StartTime)
						if currentPhase.Duration >= a.options.MinPhaseTime {
							a.analysis.DrivingBehavior.Phases = append(a.analysis.DrivingBehavior.Phases, *currentPhase)
						}
					}

					currentPhase = &DrivingPhase{
						Type:      phaseType,
						StartTime: e.Timestamp,
						Stats:     make(map[string]float64),
					}
				}

				if acceleration >= a.options.RapidAccelThreshold {
					a.analysis.DrivingBehavior.RapidAccel++
				} else if acceleration <= a.options.RapidDecelThreshold {
					a.analysis.DrivingBehavior.RapidDecel++
				}
			}
		}

		lastSpeed = speed
		lastTime = e.Timestamp
	}

	if currentPhase != nil {
		currentPhase.EndTime = lastTime
		currentPhase.Duration = currentPhase.EndTime.Sub(currentPhase.StartTime)
		if currentPhase.Duration >= a.options.MinPhaseTime {
			a.analysis.DrivingBehavior.Phases = append(a.analysis.DrivingBehavior.Phases, *currentPhase)
		}
	}

	var idleTime time.Duration
	for _, phase := range a.analysis.DrivingBehavior.Phases {
		if phase.Type == "idle" {
			idleTime += phase.Duration
		}
	}

	totalDuration := a.analysis.SessionInfo.Duration
	if totalDuration > 0 {
		a.analysis.DrivingBehavior.IdleTime = float64(idleTime) / float64(totalDuration) * 100
	}

	return nil
}

func (a *Analyzer) detectPhaseType(speed, acceleration float64) string {
	if speed < a.options.IdleSpeedThreshold {
		return "idle"
	}
	if acceleration >= a.options.RapidAccelThreshold {
		return "acceleration"
	}
	if acceleration <= a.options.RapidDecelThreshold {
		return "deceleration"
	}
	if math.Abs(acceleration) < a.options.CruiseThreshold {
		return "cruise"
	}
	return "unknown"
}

func (a *Analyzer) analyzeCANActivity() error {
	idCounts := make(map[uint32]int)
	totalBits := 0

	for _, e := range a.exchanges {
		idCounts[e.CANID]++
		// Standard CAN frame: 108 bits of overhead plus the payload.
		totalBits += 108 + len(e.Data)*8
	}

	a.analysis.CANActivity.UniqueIDs = len(idCounts)
	a.analysis.CANActivity.IDCounts = idCounts

	duration := a.analysis.SessionInfo.Duration.Seconds()
	if duration > 0 {
		bitsPerSecond := float64(totalBits) / duration
		a.analysis.CANActivity.BusLoad = bitsPerSecond / 1_000_000 * 100 // percentage of 1Mbps
	}

	return nil
}

func (a *Analyzer) analyzeDiagnostics() error {
	seen := make(map[string]bool)

	for _, e := range a.exchanges {
		if e.Kind != "obd" || e.Direction != capture.DirectionTX || len(e.Data) < 1 {
			continue
		}
		switch e.Data[0] {
		case 0x43, 0x47, 0x4A: // mode 03/07/0A DTC list responses
			body := e.Data[1:]
			if len(body) < 1 {
				continue
			}
			count := int(body[0])
			body = body[1:]
			for i := 0; i < count && len(body) >= 2; i++ {
				code := dtc.DecodeBytes([2]byte{body[0], body[1]})
				seen[code] = true
				body = body[2:]
			}
		}
	}

	a.analysis.Diagnostics.DTCCount = len(seen)
	for code := range seen {
		a.analysis.Diagnostics.UniqueDTCs = append(a.analysis.Diagnostics.UniqueDTCs, code)
	}
	return nil
}
