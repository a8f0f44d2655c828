package ecu

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/isotp"
	"github.com/obdsim/vecu/internal/sensor"
)

type fakeSink struct {
	out chan [8]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{out: make(chan [8]byte, 64)}
}

func (s *fakeSink) Send(canID uint32, frame [8]byte) error {
	s.out <- frame
	return nil
}

func (s *fakeSink) recv(t *testing.T) [8]byte {
	t.Helper()
	select {
	case f := <-s.out:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a response frame")
		return [8]byte{}
	}
}

func newTestUnit(t *testing.T, identity Identity) (*Unit, *fakeSink, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	sink := newFakeSink()
	u := New(identity, sensor.DefaultConfig(), VehicleInfo{VIN: "1HGBH41JXMN109186", CalibrationID: "CAL1"},
		clk, rand.New(rand.NewSource(1)), sink, isotp.DefaultConfig())
	go u.Run()
	t.Cleanup(u.Close)
	return u, sink, clk
}

func TestSingleFrameOBDRoundtrip(t *testing.T) {
	u, sink, _ := newTestUnit(t, EngineIdentity())
	_ = u

	raw, err := isotp.EncodeSingle([]byte{0x01, 0x0D}) // vehicle speed
	if err != nil {
		t.Fatalf("EncodeSingle: %v", err)
	}
	u.Deliver(raw)

	resp := sink.recv(t)
	frame, err := isotp.Decode(resp)
	if err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if frame.Kind != isotp.KindSingle {
		t.Fatalf("expected single frame response, got kind %v", frame.Kind)
	}
	if !bytes.Equal(frame.Data, []byte{0x41, 0x0D, 0x00}) {
		t.Fatalf("unexpected mode01 response: %x", frame.Data)
	}
}

func TestOBDUnsupportedOnNonOBDEcu(t *testing.T) {
	u, sink, _ := newTestUnit(t, TransmissionIdentity())
	_ = u

	raw, _ := isotp.EncodeSingle([]byte{0x01, 0x0D})
	u.Deliver(raw)

	resp := sink.recv(t)
	frame, err := isotp.Decode(resp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(frame.Data, []byte{0x7F, 0x01, 0x11}) {
		t.Fatalf("expected service-not-supported NRC, got %x", frame.Data)
	}
}

func TestObserveSeesRequestAndResponsePayloads(t *testing.T) {
	u, sink, _ := newTestUnit(t, EngineIdentity())

	var mu sync.Mutex
	var seen []string
	u.Observe(func(direction string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, direction+":"+hex.EncodeToString(payload))
	})

	raw, _ := isotp.EncodeSingle([]byte{0x01, 0x0D})
	u.Deliver(raw)
	sink.recv(t)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected one rx and one tx observation, got %v", seen)
	}
	if seen[0] != "rx:010d" {
		t.Fatalf("expected rx observation of the request, got %q", seen[0])
	}
	if seen[1] != "tx:410d00" {
		t.Fatalf("expected tx observation of the response, got %q", seen[1])
	}
}

func TestUDSSessionControlRoundtrip(t *testing.T) {
	u, sink, _ := newTestUnit(t, EngineIdentity())
	_ = u

	raw, _ := isotp.EncodeSingle([]byte{0x10, 0x03})
	u.Deliver(raw)

	resp := sink.recv(t)
	frame, err := isotp.Decode(resp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(frame.Data, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}) {
		t.Fatalf("unexpected session control response: %x", frame.Data)
	}
}

func TestMultiFrameRequestReassemblyAndFlowControl(t *testing.T) {
	u, sink, _ := newTestUnit(t, EngineIdentity())
	_ = u

	payload := []byte{0x2E, 0x01, 0x00, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	first, err := isotp.EncodeFirst(len(payload), payload[:6])
	if err != nil {
		t.Fatalf("EncodeFirst: %v", err)
	}
	u.Deliver(first)

	fc := sink.recv(t)
	fcFrame, err := isotp.Decode(fc)
	if err != nil {
		t.Fatalf("Decode FC: %v", err)
	}
	if fcFrame.Kind != isotp.KindFlowControl || fcFrame.Status != isotp.FlowContinue {
		t.Fatalf("expected Continue flow control, got %+v", fcFrame)
	}

	cf, err := isotp.EncodeConsecutive(1, payload[6:])
	if err != nil {
		t.Fatalf("EncodeConsecutive: %v", err)
	}
	u.Deliver(cf)

	resp := sink.recv(t)
	frame, err := isotp.Decode(resp)
	if err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if !bytes.Equal(frame.Data, []byte{0x7F, 0x2E, 0x33}) {
		t.Fatalf("expected security-access-denied NRC, got %x", frame.Data)
	}
}

func TestDeliverDropsFlowControlWithoutBlockingDispatch(t *testing.T) {
	u, sink, _ := newTestUnit(t, EngineIdentity())

	stray := isotp.EncodeFlowControl(isotp.FlowContinue, 0, 0)
	u.Deliver(stray)

	raw, _ := isotp.EncodeSingle([]byte{0x01, 0x0D})
	u.Deliver(raw)

	resp := sink.recv(t)
	frame, err := isotp.Decode(resp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Kind != isotp.KindSingle {
		t.Fatalf("stray flow control frame disrupted normal dispatch: %+v", frame)
	}
}

func TestInjectDTCRaisesMILInStatus(t *testing.T) {
	u, _, _ := newTestUnit(t, EngineIdentity())

	if err := u.InjectDTC("P0171", true); err != nil {
		t.Fatalf("InjectDTC: %v", err)
	}
	if err := u.InjectDTC("P0171", true); err != nil {
		t.Fatalf("InjectDTC: %v", err)
	}

	status := u.Status()
	if !status.MILOn {
		t.Fatal("expected MIL on after confirming an emission-related code")
	}
	if status.DTCCount != 1 {
		t.Fatalf("expected 1 confirmed DTC, got %d", status.DTCCount)
	}
}

func TestIdentityMatchesPhysicalAndFunctionalAddress(t *testing.T) {
	id := EngineIdentity()
	if !id.MatchesAddress(id.RequestID) {
		t.Fatal("expected identity to match its physical request address")
	}
	if !id.MatchesAddress(FunctionalBroadcast) {
		t.Fatal("expected identity to match the functional broadcast address")
	}
	if id.MatchesAddress(0x123) {
		t.Fatal("unexpected match on an unrelated address")
	}
}
