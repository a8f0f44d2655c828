package dtc

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/sensor"
)

const (
	pendingToConfirmedThreshold = 2
	healingDriveCycles          = 40
	healingCycleDuration        = 600 * time.Second
	maxHistoryEntries           = 10
)

// MILSetter is the one method Registry requires from the sensor simulator: a
// way to push the malfunction-indicator-lamp state it computes.
type MILSetter interface {
	SetMIL(on bool)
}

// Registry holds one ECU's diagnostic trouble codes and drives the MIL.
type Registry struct {
	clk clock.Clock
	mil MILSetter

	mu              sync.Mutex
	codes           map[string]*Code
	milOn           bool
	driveCycleCount int
}

// NewRegistry builds an empty Registry. mil may be nil in tests that don't
// care about MIL propagation.
func NewRegistry(clk clock.Clock, mil MILSetter) *Registry {
	return &Registry{
		clk:   clk,
		mil:   mil,
		codes: make(map[string]*Code),
	}
}

// Inject triggers one detection of code. On a new code it is recorded
// PENDING; repeated detections advance it to CONFIRMED, and then PERMANENT
// if it is emission-related. Returns an error if code is not in the catalog.
func (r *Registry) Inject(code string, snap sensor.Snapshot, captureFreezeFrame bool) error {
	def, ok := Catalog[code]
	if !ok {
		return fmt.Errorf("dtc: unknown code %s", code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	existing, ok := r.codes[code]
	if ok {
		existing.DetectionCount++
		existing.LastDetected = now
		if existing.State == StatePending && existing.DetectionCount >= pendingToConfirmedThreshold {
			existing.State = StateConfirmed
			log.Printf("DTC %s confirmed after %d detections", code, existing.DetectionCount)
			if existing.EmissionRelated {
				existing.State = StatePermanent
			}
		}
	} else {
		var ff *FreezeFrame
		if captureFreezeFrame {
			f := newFreezeFrame(now, snap)
			ff = &f
		}
		r.codes[code] = &Code{
			Code:            code,
			Description:     def.description,
			State:           StatePending,
			DetectionCount:  1,
			FirstDetected:   now,
			LastDetected:    now,
			FreezeFrame:     ff,
			MILIlluminate:   def.milIlluminate,
			EmissionRelated: def.emissionRelated,
		}
		log.Printf("DTC %s detected (pending): %s", code, def.description)
	}

	r.updateMIL()
	return nil
}

// Clear moves PENDING and CONFIRMED codes to HISTORY. Permanent codes
// survive unless clearPermanent is set, matching real scan-tool behavior
// where mode 04 cannot touch mode 0A codes. If the MIL setter also has a
// ResetClearCounters method (as the sensor simulator does), Clear calls it.
func (r *Registry) Clear(clearPermanent bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared []string
	for code, c := range r.codes {
		switch {
		case c.State == StatePermanent && !clearPermanent:
			continue
		case c.State == StatePending || c.State == StateConfirmed:
			c.State = StateHistory
			cleared = append(cleared, code)
		case clearPermanent && c.State == StatePermanent:
			c.State = StateHistory
			cleared = append(cleared, code)
		}
	}

	r.cleanupHistory()
	r.updateMIL()
	if rc, ok := r.mil.(interface{ ResetClearCounters() }); ok {
		rc.ResetClearCounters()
	}

	if len(cleared) > 0 {
		sort.Strings(cleared)
		log.Printf("Cleared %d DTCs: %v", len(cleared), cleared)
	}
	return cleared
}

// ByState returns a snapshot copy of every code currently in state.
func (r *Registry) ByState(state State) []Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Code
	for _, c := range r.codes {
		if c.State == state {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Pending returns mode 07 codes.
func (r *Registry) Pending() []Code { return r.ByState(StatePending) }

// Confirmed returns mode 03 codes.
func (r *Registry) Confirmed() []Code { return r.ByState(StateConfirmed) }

// Permanent returns mode 0A codes.
func (r *Registry) Permanent() []Code { return r.ByState(StatePermanent) }

// AllActive returns pending + confirmed + permanent codes.
func (r *Registry) AllActive() []Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Code
	for _, c := range r.codes {
		if c.State == StatePending || c.State == StateConfirmed || c.State == StatePermanent {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count is the number of stored (confirmed+permanent) DTCs, as reported in
// OBD-II mode 01 PID 01's DTC count field.
func (r *Registry) Count() int {
	return len(r.Confirmed()) + len(r.Permanent())
}

// IsMILOn reports the current malfunction-indicator-lamp state.
func (r *Registry) IsMILOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.milOn
}

// DriveCycles reports how many DriveCycleComplete calls this registry has
// processed, for fleet status reporting.
func (r *Registry) DriveCycles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driveCycleCount
}

// DriveCycleComplete runs fault healing: a PENDING code not re-detected
// within healingDriveCycles worth of simulated time is dropped entirely.
func (r *Registry) DriveCycleComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.driveCycleCount++
	now := r.clk.Now()
	healWindow := time.Duration(healingDriveCycles) * healingCycleDuration
	for code, c := range r.codes {
		if c.State != StatePending {
			continue
		}
		if now.Sub(c.LastDetected) > healWindow {
			log.Printf("DTC %s healed after %d clean drive cycles", code, healingDriveCycles)
			delete(r.codes, code)
		}
	}
	r.updateMIL()
}

func (r *Registry) updateMIL() {
	on := false
	for _, c := range r.codes {
		if c.MILIlluminate && (c.State == StateConfirmed || c.State == StatePermanent) {
			on = true
			break
		}
	}
	r.milOn = on
	if r.mil != nil {
		r.mil.SetMIL(on)
	}
}

func (r *Registry) cleanupHistory() {
	var history []*Code
	for _, c := range r.codes {
		if c.State == StateHistory {
			history = append(history, c)
		}
	}
	if len(history) <= maxHistoryEntries {
		return
	}
	sort.Slice(history, func(i, j int) bool { return history[i].LastDetected.Before(history[j].LastDetected) })
	for _, c := range history[:len(history)-maxHistoryEntries] {
		delete(r.codes, c.Code)
	}
}

// FreezeFrameFor returns the freeze frame captured for code, if any.
func (r *Registry) FreezeFrameFor(code string) (FreezeFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok || c.FreezeFrame == nil {
		return FreezeFrame{}, false
	}
	return *c.FreezeFrame, true
}

// FormatResponse renders codes in the OBD-II mode 03/07/0A wire format:
// a count byte followed by each code's 2-byte encoding.
func FormatResponse(codes []Code) []byte {
	if len(codes) == 0 {
		return []byte{0x00}
	}
	out := make([]byte, 0, 1+2*len(codes))
	out = append(out, byte(len(codes)))
	for _, c := range codes {
		b := c.Bytes()
		out = append(out, b[0], b[1])
	}
	return out
}
