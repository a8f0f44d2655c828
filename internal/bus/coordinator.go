// Package bus fans out CAN frames to a fleet of ECUs sharing one diagnostic
// bus and answers fleet-wide introspection and control requests.
package bus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/obdsim/vecu/internal/ecu"
)

// Coordinator routes inbound frames by arbitration ID to the ECUs registered
// with it, including functional (0x7DF) broadcast fan-out, and implements
// ecu.FrameSink so each Unit's responses come straight back through it.
type Coordinator struct {
	mu   sync.RWMutex
	byID map[uint32]*ecu.Unit // keyed by request ID
	list []*ecu.Unit          // registration order, for deterministic broadcast fan-out

	onFrame func(canID uint32, frame [8]byte)
}

// New builds an empty Coordinator. onFrame, if non-nil, is called for every
// frame a member ECU transmits (its physical transport write); it may be
// called concurrently from multiple ECUs' Run goroutines.
func New(onFrame func(canID uint32, frame [8]byte)) *Coordinator {
	return &Coordinator{
		byID:    make(map[uint32]*ecu.Unit),
		onFrame: onFrame,
	}
}

// Send implements ecu.FrameSink: it hands frame to whatever physical
// transport onFrame wires up, tagged with the sending ECU's response ID.
func (c *Coordinator) Send(canID uint32, frame [8]byte) error {
	if c.onFrame != nil {
		c.onFrame(canID, frame)
	}
	return nil
}

// Register adds unit to the fleet, indexed by its physical request address.
// Registration order is preserved for broadcast fan-out and status listing.
func (c *Coordinator) Register(unit *ecu.Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[unit.Identity.RequestID]; exists {
		return fmt.Errorf("bus: request ID %#x already registered", unit.Identity.RequestID)
	}
	c.byID[unit.Identity.RequestID] = unit
	c.list = append(c.list, unit)
	return nil
}

// Deliver routes one raw inbound CAN frame by its arbitration ID: a physical
// address goes to the one matching ECU, and the OBD-II functional broadcast
// address (0x7DF) fans out to every ECU that answers to it.
func (c *Coordinator) Deliver(arbitrationID uint32, raw [8]byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if arbitrationID == ecu.FunctionalBroadcast {
		for _, u := range c.list {
			if u.Identity.MatchesAddress(arbitrationID) {
				u.Deliver(raw)
			}
		}
		return
	}
	if u, ok := c.byID[arbitrationID]; ok {
		u.Deliver(raw)
	}
}

// ByName looks up a registered ECU by its identity name.
func (c *Coordinator) ByName(name string) (*ecu.Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.list {
		if u.Identity.Name == name {
			return u, true
		}
	}
	return nil, false
}

// ByKind returns every registered ECU of the given kind, in registration
// order.
func (c *Coordinator) ByKind(kind ecu.Kind) []*ecu.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*ecu.Unit
	for _, u := range c.list {
		if u.Identity.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// ByAddress looks up the ECU answering a given physical request address.
func (c *Coordinator) ByAddress(requestID uint32) (*ecu.Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.byID[requestID]
	return u, ok
}

// List returns every registered ECU in registration order.
func (c *Coordinator) List() []*ecu.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ecu.Unit, len(c.list))
	copy(out, c.list)
	return out
}

// TotalDTCCount sums the active DTC count across every ECU in the fleet.
func (c *Coordinator) TotalDTCCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, u := range c.list {
		total += u.Registry.Count()
	}
	return total
}

// ClearAllDTCs clears every ECU's DTCs, returning the codes cleared per ECU
// name.
func (c *Coordinator) ClearAllDTCs(clearPermanent bool) map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.list))
	for _, u := range c.list {
		out[u.Identity.Name] = u.Registry.Clear(clearPermanent)
	}
	return out
}

// StatusSummary reports every ECU's health, sorted by name for stable
// output.
func (c *Coordinator) StatusSummary() []ecu.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ecu.Status, 0, len(c.list))
	for _, u := range c.list {
		out = append(out, u.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts every registered ECU's dispatch goroutine. Call once after all
// Register calls complete.
func (c *Coordinator) Run() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.list {
		go u.Run()
	}
}

// Close stops every registered ECU's dispatch goroutine.
func (c *Coordinator) Close() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.list {
		u.Close()
	}
}
