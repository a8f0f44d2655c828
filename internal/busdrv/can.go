// Package busdrv is the physical CAN transport: it moves raw 8-byte frames
// between a SocketCAN interface and an internal/bus.Coordinator.
package busdrv

import (
	"fmt"

	"github.com/brutella/can"

	"github.com/obdsim/vecu/internal/bus"
)

// Driver binds one SocketCAN interface (a real can0, or a virtual vcan0 for
// local testing) to the diagnostic bus.
type Driver struct {
	iface string
	bus   *can.Bus
}

// Open binds to the named SocketCAN interface. It does not start receiving
// until Listen is called.
func Open(ifaceName string) (*Driver, error) {
	b, err := can.NewBusForInterfaceWithName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("busdrv: opening interface %s: %w", ifaceName, err)
	}
	return &Driver{iface: ifaceName, bus: b}, nil
}

// Send implements ecu.FrameSink (via internal/bus.Coordinator's onFrame
// hook): it publishes one frame onto the physical bus under canID.
func (d *Driver) Send(canID uint32, frame [8]byte) error {
	return d.bus.Publish(frameFromRaw(canID, frame))
}

// Listen subscribes to the interface and routes every inbound frame to
// coord.Deliver, then blocks until the bus disconnects or errors. Run it in
// its own goroutine.
func (d *Driver) Listen(coord *bus.Coordinator) error {
	d.bus.SubscribeFunc(func(frm can.Frame) {
		coord.Deliver(frm.ID, rawFromFrame(frm))
	})
	return d.bus.ConnectAndPublish()
}

// Close disconnects from the interface.
func (d *Driver) Close() error {
	return d.bus.Disconnect()
}

func frameFromRaw(canID uint32, raw [8]byte) can.Frame {
	return can.Frame{ID: canID, Length: uint8(len(raw)), Data: raw}
}

func rawFromFrame(frm can.Frame) [8]byte {
	var out [8]byte
	n := int(frm.Length)
	if n > 8 {
		n = 8
	}
	copy(out[:n], frm.Data[:n])
	return out
}
