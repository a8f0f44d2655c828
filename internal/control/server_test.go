package control

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obdsim/vecu/internal/bus"
	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/ecu"
	"github.com/obdsim/vecu/internal/isotp"
	"github.com/obdsim/vecu/internal/sensor"
)

func newTestCoordinator(t *testing.T) *bus.Coordinator {
	t.Helper()
	coord := bus.New(func(uint32, [8]byte) {})
	clk := clock.NewFake(time.Unix(0, 0))
	rng := rand.New(rand.NewSource(3))
	info := ecu.VehicleInfo{VIN: "1HGBH41JXMN109186", CalibrationID: "CAL1"}

	engine := ecu.New(ecu.EngineIdentity(), sensor.DefaultConfig(), info, clk, rng, coord, isotp.DefaultConfig())
	if err := coord.Register(engine); err != nil {
		t.Fatalf("Register: %v", err)
	}
	coord.Run()
	t.Cleanup(coord.Close)
	return coord
}

func TestHandleListECUs(t *testing.T) {
	coord := newTestCoordinator(t)
	srv := httptest.NewServer(New(coord).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ecus")
	if err != nil {
		t.Fatalf("GET /api/ecus: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var statuses []ecu.Status
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != ecu.EngineIdentity().Name {
		t.Fatalf("expected one engine ECU status, got %+v", statuses)
	}
}

func TestHandleInjectDTCAndClear(t *testing.T) {
	coord := newTestCoordinator(t)
	srv := httptest.NewServer(New(coord).Router())
	defer srv.Close()

	name := ecu.EngineIdentity().Name
	body, _ := json.Marshal(injectDTCRequest{Code: "P0420", CaptureFreezeFrame: true})
	resp, err := http.Post(srv.URL+"/api/ecus/"+name+"/dtc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST inject: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 injecting a DTC, got %d", resp.StatusCode)
	}

	unit, _ := coord.ByName(name)
	if len(unit.Registry.Pending()) != 1 {
		t.Fatalf("expected one pending DTC after injection, got %+v", unit.Registry.Pending())
	}

	clearResp, err := http.Post(srv.URL+"/api/dtc/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST clear: %v", err)
	}
	clearResp.Body.Close()
	if clearResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 clearing DTCs, got %d", clearResp.StatusCode)
	}
}

func TestHandleInjectDTCUnknownECU(t *testing.T) {
	coord := newTestCoordinator(t)
	srv := httptest.NewServer(New(coord).Router())
	defer srv.Close()

	body, _ := json.Marshal(injectDTCRequest{Code: "P0420"})
	resp, err := http.Post(srv.URL+"/api/ecus/Nonexistent/dtc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST inject: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown ECU, got %d", resp.StatusCode)
	}
}

func TestHandleSetSensorsAppliesOverrides(t *testing.T) {
	coord := newTestCoordinator(t)
	srv := httptest.NewServer(New(coord).Router())
	defer srv.Close()

	name := ecu.EngineIdentity().Name
	rpm := 3000.0
	body, _ := json.Marshal(setSensorsRequest{RPM: &rpm})
	resp, err := http.Post(srv.URL+"/api/ecus/"+name+"/sensors", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST sensors: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	unit, _ := coord.ByName(name)
	if got := unit.Sim.Snapshot().RPM; got != rpm {
		t.Fatalf("expected RPM override to take effect, got %v want %v", got, rpm)
	}
}

func TestWebsocketTelemetryBroadcast(t *testing.T) {
	coord := newTestCoordinator(t)
	s := New(coord)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	s.StartTelemetry(10 * time.Millisecond)
	defer s.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var frame TelemetryFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal telemetry frame: %v", err)
	}
	if len(frame.ECUs) != 1 || frame.ECUs[0].Name != ecu.EngineIdentity().Name {
		t.Fatalf("expected one engine ECU in the telemetry frame, got %+v", frame.ECUs)
	}
}
