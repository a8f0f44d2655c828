package bus

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/ecu"
	"github.com/obdsim/vecu/internal/isotp"
	"github.com/obdsim/vecu/internal/sensor"
)

type capturedFrame struct {
	canID uint32
	frame [8]byte
}

func newTestFleet(t *testing.T) (*Coordinator, chan capturedFrame) {
	t.Helper()
	captured := make(chan capturedFrame, 256)
	coord := New(func(canID uint32, frame [8]byte) {
		captured <- capturedFrame{canID, frame}
	})

	clk := clock.NewFake(time.Unix(0, 0))
	rng := rand.New(rand.NewSource(7))
	info := ecu.VehicleInfo{VIN: "1HGBH41JXMN109186", CalibrationID: "CAL1"}

	engine := ecu.New(ecu.EngineIdentity(), sensor.DefaultConfig(), info, clk, rng, coord, isotp.DefaultConfig())
	trans := ecu.New(ecu.TransmissionIdentity(), sensor.DefaultConfig(), info, clk, rng, coord, isotp.DefaultConfig())
	abs := ecu.New(ecu.ABSIdentity(), sensor.DefaultConfig(), info, clk, rng, coord, isotp.DefaultConfig())

	for _, u := range []*ecu.Unit{engine, trans, abs} {
		if err := coord.Register(u); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	coord.Run()
	t.Cleanup(coord.Close)
	return coord, captured
}

func recvFrame(t *testing.T, captured chan capturedFrame) capturedFrame {
	t.Helper()
	select {
	case f := <-captured:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a transmitted frame")
		return capturedFrame{}
	}
}

func TestDeliverRoutesToPhysicalAddress(t *testing.T) {
	coord, captured := newTestFleet(t)

	raw, _ := isotp.EncodeSingle([]byte{0x10, 0x03})
	coord.Deliver(ecu.EngineIdentity().RequestID, raw)

	got := recvFrame(t, captured)
	if got.canID != ecu.EngineIdentity().ResponseID {
		t.Fatalf("expected response on engine response ID, got %#x", got.canID)
	}
	frame, err := isotp.Decode(got.frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(frame.Data, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}) {
		t.Fatalf("unexpected session control response: %x", frame.Data)
	}
}

func TestDeliverFunctionalBroadcastFansOutToSupportingEcus(t *testing.T) {
	coord, captured := newTestFleet(t)

	raw, _ := isotp.EncodeSingle([]byte{0x01, 0x00}) // mode01 PID support request
	coord.Deliver(ecu.FunctionalBroadcast, raw)

	seen := map[uint32]bool{}
	for i := 0; i < 1; i++ { // only the engine ECU supports OBD
		got := recvFrame(t, captured)
		seen[got.canID] = true
	}
	if !seen[ecu.EngineIdentity().ResponseID] {
		t.Fatalf("expected a response from the engine ECU, got %+v", seen)
	}

	select {
	case extra := <-captured:
		t.Fatalf("expected only one OBD-capable ECU to answer the broadcast, got extra frame on %#x", extra.canID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestByNameByKindByAddress(t *testing.T) {
	coord, _ := newTestFleet(t)

	if _, ok := coord.ByName("Engine Control Unit"); !ok {
		t.Fatal("expected to find the engine ECU by name")
	}
	if _, ok := coord.ByName("nonexistent"); ok {
		t.Fatal("expected lookup by unknown name to fail")
	}
	if units := coord.ByKind(ecu.KindABS); len(units) != 1 {
		t.Fatalf("expected exactly one ABS ECU, got %d", len(units))
	}
	if _, ok := coord.ByAddress(ecu.TransmissionIdentity().RequestID); !ok {
		t.Fatal("expected to find the transmission ECU by address")
	}
}

func TestRegisterRejectsDuplicateAddress(t *testing.T) {
	coord := New(nil)
	clk := clock.NewFake(time.Unix(0, 0))
	info := ecu.VehicleInfo{VIN: "1HGBH41JXMN109186"}
	u1 := ecu.New(ecu.EngineIdentity(), sensor.DefaultConfig(), info, clk, nil, coord, isotp.DefaultConfig())
	u2 := ecu.New(ecu.EngineIdentity(), sensor.DefaultConfig(), info, clk, nil, coord, isotp.DefaultConfig())

	if err := coord.Register(u1); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := coord.Register(u2); err == nil {
		t.Fatal("expected duplicate request ID registration to fail")
	}
}

func TestTotalDTCCountAndClearAll(t *testing.T) {
	coord, _ := newTestFleet(t)

	engine, _ := coord.ByName("Engine Control Unit")
	engine.InjectDTC("P0171", true)
	engine.InjectDTC("P0171", true)

	if total := coord.TotalDTCCount(); total != 1 {
		t.Fatalf("expected total DTC count 1, got %d", total)
	}

	cleared := coord.ClearAllDTCs(true)
	if len(cleared["Engine Control Unit"]) != 1 {
		t.Fatalf("expected the engine ECU to report 1 cleared code, got %+v", cleared)
	}
	if coord.TotalDTCCount() != 0 {
		t.Fatal("expected DTC count to be zero after clearing")
	}
}

func TestStatusSummarySortedByName(t *testing.T) {
	coord, _ := newTestFleet(t)

	summary := coord.StatusSummary()
	if len(summary) != 3 {
		t.Fatalf("expected 3 ECUs in the summary, got %d", len(summary))
	}
	for i := 1; i < len(summary); i++ {
		if summary[i-1].Name > summary[i].Name {
			t.Fatalf("expected status summary sorted by name, got %+v", summary)
		}
	}
}

func TestConcurrentDeliverIsSafe(t *testing.T) {
	coord, captured := newTestFleet(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := isotp.EncodeSingle([]byte{0x01, 0x0D})
			coord.Deliver(ecu.EngineIdentity().RequestID, raw)
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		recvFrame(t, captured)
	}
}
