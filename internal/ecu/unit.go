package ecu

import (
	"log"
	"math/rand"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/dtc"
	"github.com/obdsim/vecu/internal/isotp"
	"github.com/obdsim/vecu/internal/obd"
	"github.com/obdsim/vecu/internal/sensor"
	"github.com/obdsim/vecu/internal/uds"
)

// FrameSink puts one raw 8-byte CAN frame on the wire under the given
// arbitration ID. A bus.Coordinator implements this for its member ECUs.
type FrameSink interface {
	Send(canID uint32, frame [8]byte) error
}

// VehicleInfo carries the identity fields OBD mode 09 and the UDS DID table
// report; it is shared across every ECU on a bus.
type VehicleInfo struct {
	VIN           string
	CalibrationID string
	CVN           [4]byte

	// SupportedPIDs optionally narrows the OBD PIDs every ECU on the bus
	// advertises and answers; nil keeps each dispatcher's full built-in
	// set.
	SupportedPIDs []byte

	// ExtraDIDs adds to or overrides entries in every ECU's UDS DID
	// table.
	ExtraDIDs map[uint16][]byte
}

// Unit is one electronic control unit: a sensor simulator and DTC registry,
// answering OBD-II and/or UDS requests over its own ISO-TP link.
type Unit struct {
	Identity Identity
	Sim      *sensor.Simulator
	Registry *dtc.Registry
	obdDisp  *obd.Dispatcher
	udsEng   *uds.Engine

	clk      clock.Clock
	sink     FrameSink
	receiver *isotp.Receiver
	sender   *isotp.Sender
	fcIn     chan isotp.Frame
	inbox    chan [8]byte

	stop chan struct{}
	done chan struct{}

	observe func(direction string, payload []byte)
}

// Observe registers fn to be called with every reassembled request
// ("rx") and every outgoing response ("tx") payload this Unit handles.
// Used to feed a bus-wide capture recorder without coupling Unit to any
// particular storage backend.
func (u *Unit) Observe(fn func(direction string, payload []byte)) {
	u.observe = fn
}

// sinkTransmitter adapts a FrameSink bound to one arbitration ID into an
// isotp.Transmitter.
type sinkTransmitter struct {
	sink  FrameSink
	canID uint32
}

func (t sinkTransmitter) Transmit(frame [8]byte) error {
	return t.sink.Send(t.canID, frame)
}

// New builds a Unit. simCfg tunes the sensor model; info supplies the
// VIN/calibration fields OBD-09 and UDS report; sink is the bus the ECU's
// responses and Flow-Control frames go out on.
func New(identity Identity, simCfg sensor.Config, info VehicleInfo, clk clock.Clock, rng *rand.Rand, sink FrameSink, cfg isotp.Config) *Unit {
	sim := sensor.New(simCfg, clk, rng)
	registry := dtc.NewRegistry(clk, sim)

	u := &Unit{
		Identity: identity,
		Sim:      sim,
		Registry: registry,
		clk:      clk,
		sink:     sink,
		receiver: isotp.NewReceiver(cfg),
		fcIn:     make(chan isotp.Frame, 4),
		inbox:    make(chan [8]byte, 32),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	tx := sinkTransmitter{sink: sink, canID: identity.ResponseID}
	u.sender = isotp.NewSender(tx, u.fcIn, cfg)

	if identity.SupportsOBD {
		u.obdDisp = obd.New(sim, registry, obd.Identity{
			VIN:           info.VIN,
			CalibrationID: info.CalibrationID,
			CVN:           info.CVN,
			ECUName:       identity.Name,
			SupportedPIDs: info.SupportedPIDs,
		})
	}
	if identity.SupportsUDS {
		u.udsEng = uds.New(clk, rng, registry, uds.Identity{
			VIN:       info.VIN,
			ECUName:   identity.Name,
			ExtraDIDs: info.ExtraDIDs,
		})
	}
	return u
}

// Run processes inbound frames sequentially until ctx-like stop is signaled
// via Close. It is meant to run in its own goroutine, one per Unit.
func (u *Unit) Run() {
	defer close(u.done)
	tx := sinkTransmitter{sink: u.sink, canID: u.Identity.ResponseID}
	for {
		select {
		case <-u.stop:
			return
		case raw := <-u.inbox:
			now := u.clk.Now()
			payload, err := u.receiver.Process(tx, now, raw)
			if err != nil {
				log.Printf("%s: isotp reassembly error: %v", u.Identity.Name, err)
				continue
			}
			if payload == nil {
				continue
			}
			if u.observe != nil {
				u.observe("rx", payload)
			}
			resp := u.dispatch(payload)
			if resp == nil {
				continue
			}
			if u.observe != nil {
				u.observe("tx", resp)
			}
			if err := u.sender.Send(resp); err != nil {
				log.Printf("%s: failed to send response: %v", u.Identity.Name, err)
			}
		}
	}
}

// Close stops Run and waits for it to return.
func (u *Unit) Close() {
	close(u.stop)
	<-u.done
}

// Deliver routes one raw inbound CAN frame addressed to this ECU. Flow
// Control frames are handed straight to the outstanding Sender; everything
// else is queued for Run's sequential dispatch. Deliver never blocks on a
// Send in progress.
func (u *Unit) Deliver(raw [8]byte) {
	frame, err := isotp.Decode(raw)
	if err != nil {
		log.Printf("%s: dropping malformed frame: %v", u.Identity.Name, err)
		return
	}
	if frame.Kind == isotp.KindFlowControl {
		select {
		case u.fcIn <- frame:
		default:
			log.Printf("%s: dropping flow-control frame, no send outstanding", u.Identity.Name)
		}
		return
	}
	select {
	case u.inbox <- raw:
	default:
		log.Printf("%s: inbox full, dropping inbound frame", u.Identity.Name)
	}
}

// dispatch routes one reassembled request by its leading mode/service byte
// and recovers from any handler panic as a general-reject negative response,
// rather than letting a single bad request take the ECU down.
func (u *Unit) dispatch(payload []byte) (resp []byte) {
	mode := payload[0]
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s: recovered from panic handling 0x%02X: %v", u.Identity.Name, mode, r)
			resp = negResponse(mode, 0x10)
		}
	}()

	switch {
	case mode >= 0x01 && mode <= 0x0A:
		if u.obdDisp == nil {
			return negResponse(mode, 0x11)
		}
		return u.obdDisp.Process(payload)
	case mode >= 0x10:
		if u.udsEng == nil {
			return negResponse(mode, 0x11)
		}
		return u.udsEng.Process(payload)
	default:
		return negResponse(mode, 0x11)
	}
}

func negResponse(mode, nrc byte) []byte {
	return []byte{0x7F, mode, nrc}
}

// InjectDTC triggers one detection of code against this ECU's registry,
// using its current sensor snapshot for any freeze frame.
func (u *Unit) InjectDTC(code string, captureFreezeFrame bool) error {
	return u.Registry.Inject(code, u.Sim.Snapshot(), captureFreezeFrame)
}

// Status summarizes this ECU for fleet introspection.
type Status struct {
	Name        string
	Kind        Kind
	RequestID   uint32
	ResponseID  uint32
	MILOn       bool
	DTCCount    int
	EngineState string
	DriveCycles int
}

// Status reports this ECU's current health for bus-level introspection.
func (u *Unit) Status() Status {
	snap := u.Sim.Snapshot()
	return Status{
		Name:        u.Identity.Name,
		Kind:        u.Identity.Kind,
		RequestID:   u.Identity.RequestID,
		ResponseID:  u.Identity.ResponseID,
		MILOn:       u.Registry.IsMILOn(),
		DTCCount:    u.Registry.Count(),
		EngineState: snap.EngineState.String(),
		DriveCycles: u.Registry.DriveCycles(),
	}
}
