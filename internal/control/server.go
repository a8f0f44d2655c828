// Package control exposes an HTTP/WebSocket admin surface over a bus of
// simulated ECUs: fleet status, DTC injection/clearing, sensor target
// overrides, and a live telemetry push, mirroring the teacher's own
// router/websocket setup in main.go.
package control

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/obdsim/vecu/internal/bus"
	"github.com/obdsim/vecu/internal/ecu"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ECUTelemetry is one ECU's live readings, pushed over the /ws feed.
type ECUTelemetry struct {
	Name        string   `json:"name"`
	RPM         float64  `json:"rpm"`
	Speed       float64  `json:"speed"`
	CoolantTemp float64  `json:"coolantTemp"`
	MILOn       bool     `json:"milOn"`
	DTCs        []string `json:"dtcs"`
}

// TelemetryFrame is one broadcast tick's snapshot across the whole fleet.
type TelemetryFrame struct {
	Timestamp time.Time      `json:"timestamp"`
	ECUs      []ECUTelemetry `json:"ecus"`
}

// Server wires a bus.Coordinator to an HTTP router and a websocket
// telemetry broadcaster.
type Server struct {
	coord *bus.Coordinator

	router *mux.Router

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	stop chan struct{}
}

// New builds a Server for coord. Call Router() to get the http.Handler and
// StartTelemetry to begin the periodic websocket broadcast.
func New(coord *bus.Coordinator) *Server {
	s := &Server{
		coord:   coord,
		clients: make(map[*websocket.Conn]bool),
		stop:    make(chan struct{}),
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// Router returns the HTTP handler serving the admin API and /ws feed.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/api/ecus", s.handleListECUs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ecus/{name}/dtc", s.handleInjectDTC).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ecus/{name}/engine/start", s.handleEngineStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ecus/{name}/engine/stop", s.handleEngineStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/ecus/{name}/sensors", s.handleSetSensors).Methods(http.MethodPost)
	s.router.HandleFunc("/api/dtc/clear", s.handleClearDTCs).Methods(http.MethodPost)
}

func (s *Server) handleListECUs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.StatusSummary())
}

type injectDTCRequest struct {
	Code               string `json:"code"`
	CaptureFreezeFrame bool   `json:"captureFreezeFrame"`
}

func (s *Server) handleInjectDTC(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	unit, ok := s.coord.ByName(name)
	if !ok {
		http.Error(w, "unknown ECU", http.StatusNotFound)
		return
	}

	var req injectDTCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := unit.InjectDTC(req.Code, req.CaptureFreezeFrame); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, unit.Status())
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	s.withUnit(w, r, func(u *ecu.Unit) { u.Sim.StartEngine() })
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.withUnit(w, r, func(u *ecu.Unit) { u.Sim.StopEngine() })
}

type setSensorsRequest struct {
	ThrottlePct *float64 `json:"throttlePct,omitempty"`
	SpeedKPH    *float64 `json:"speedKph,omitempty"`
	RPM         *float64 `json:"rpm,omitempty"`
}

func (s *Server) handleSetSensors(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	unit, ok := s.coord.ByName(name)
	if !ok {
		http.Error(w, "unknown ECU", http.StatusNotFound)
		return
	}

	var req setSensorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ThrottlePct != nil {
		unit.Sim.SetThrottle(*req.ThrottlePct)
	}
	if req.SpeedKPH != nil {
		unit.Sim.SetSpeed(*req.SpeedKPH)
	}
	if req.RPM != nil {
		unit.Sim.SetRPM(*req.RPM)
	}
	writeJSON(w, http.StatusOK, unit.Status())
}

func (s *Server) handleClearDTCs(w http.ResponseWriter, r *http.Request) {
	permanent := r.URL.Query().Get("permanent") == "true"
	writeJSON(w, http.StatusOK, s.coord.ClearAllDTCs(permanent))
}

func (s *Server) withUnit(w http.ResponseWriter, r *http.Request, fn func(*ecu.Unit)) {
	name := mux.Vars(r)["name"]
	unit, ok := s.coord.ByName(name)
	if !ok {
		http.Error(w, "unknown ECU", http.StatusNotFound)
		return
	}
	fn(unit)
	writeJSON(w, http.StatusOK, unit.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("control: error encoding response: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control: websocket upgrade error: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[ws] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) broadcast(frame TelemetryFrame) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("control: error marshaling telemetry: %v", err)
		return
	}

	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("control: error sending to client: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}

// snapshotFleet builds one TelemetryFrame from the coordinator's current
// member ECUs.
func (s *Server) snapshotFleet() TelemetryFrame {
	units := s.coord.List()
	frame := TelemetryFrame{Timestamp: time.Now(), ECUs: make([]ECUTelemetry, 0, len(units))}
	for _, u := range units {
		snap := u.Sim.Snapshot()
		var codes []string
		for _, c := range u.Registry.AllActive() {
			codes = append(codes, c.Code)
		}
		frame.ECUs = append(frame.ECUs, ECUTelemetry{
			Name:        u.Identity.Name,
			RPM:         snap.RPM,
			Speed:       snap.VehicleSpeed,
			CoolantTemp: snap.CoolantTemp,
			MILOn:       u.Registry.IsMILOn(),
			DTCs:        codes,
		})
	}
	return frame
}

// StartTelemetry begins broadcasting a TelemetryFrame over every connected
// websocket client at the given interval. Call Close to stop it.
func (s *Server) StartTelemetry(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.broadcast(s.snapshotFleet())
			}
		}
	}()
}

// Close stops the telemetry broadcaster and disconnects every websocket
// client.
func (s *Server) Close() {
	close(s.stop)
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}
