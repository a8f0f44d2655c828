// Command vecud runs a simulated OBD-II/UDS diagnostic endpoint: a fleet of
// ECUs sharing one bus, reachable over a real CAN interface, an emulated
// ELM327 serial adapter, and an HTTP/WebSocket control surface, mirroring
// the teacher's own main.go wiring.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/tarm/serial"

	"github.com/obdsim/vecu/internal/bus"
	"github.com/obdsim/vecu/internal/busdrv"
	"github.com/obdsim/vecu/internal/capture"
	"github.com/obdsim/vecu/internal/clock"
	"github.com/obdsim/vecu/internal/config"
	"github.com/obdsim/vecu/internal/control"
	"github.com/obdsim/vecu/internal/ecu"
	"github.com/obdsim/vecu/internal/isotp"
	"github.com/obdsim/vecu/internal/serialadapter"
	"github.com/obdsim/vecu/internal/telemetry"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "vehicle.yaml", "Path to vehicle profile YAML file")
	flag.Parse()

	profile, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("vecud: loading config: %v", err)
	}

	coord, adapters, recorder := buildFleet(profile)
	if recorder != nil {
		defer recorder.Close()
	}
	defer coord.Close()

	applyPresetDTCs(coord, profile.PresetDTCs)

	if profile.Serial.Enabled {
		port, err := openSerialPort(profile)
		if err != nil {
			log.Printf("vecud: serial adapter disabled, could not open %s: %v", profile.Serial.Device, err)
		} else {
			adapter := serialadapter.FunctionalAdapter(port, coord)
			adapters = append(adapters, adapter)
			go func() {
				if err := adapter.Run(); err != nil {
					log.Printf("vecud: serial adapter exited: %v", err)
				}
			}()
		}
	}

	srv := control.New(coord)
	srv.StartTelemetry(time.Second)
	defer srv.Close()

	if profile.Telemetry.Enabled {
		pusher, err := telemetry.New(telemetry.Config{
			URL:    profile.Telemetry.URL,
			Token:  profile.Telemetry.Token,
			Org:    profile.Telemetry.Org,
			Bucket: profile.Telemetry.Bucket,
		}, coord, profile.Vehicle.VIN)
		if err != nil {
			log.Printf("vecud: telemetry push disabled: %v", err)
		} else {
			pusher.Start(time.Second)
			defer pusher.Close()
		}
	}

	addr := fmt.Sprintf("%s:%d", profile.Server.Host, profile.Server.Port)
	log.Printf("vecud: serving control API on http://%s", addr)
	log.Fatal(http.ListenAndServe(addr, srv.Router()))
}

// adapterHandler is the subset of serialadapter.Adapter main.go needs:
// routing inbound bus frames to any adapter addressed on this physical link.
type adapterHandler interface {
	HandleFrame(canID uint32, frame [8]byte)
}

func buildFleet(profile *config.Profile) (*bus.Coordinator, []adapterHandler, *capture.Recorder) {
	var recorder *capture.Recorder
	if profile.Capture.Enabled {
		r, err := capture.Open(profile.Capture.Path)
		if err != nil {
			log.Printf("vecud: capture disabled: %v", err)
		} else {
			recorder = r
		}
	}

	var adapters []adapterHandler
	var driver *busdrv.Driver
	if profile.Bus.Interface != "" {
		d, err := busdrv.Open(profile.Bus.Interface)
		if err != nil {
			log.Printf("vecud: CAN interface %q unavailable: %v", profile.Bus.Interface, err)
		} else {
			driver = d
		}
	}

	var coord *bus.Coordinator
	coord = bus.New(func(canID uint32, frame [8]byte) {
		if driver != nil {
			if err := driver.Send(canID, frame); err != nil {
				log.Printf("vecud: writing to CAN bus: %v", err)
			}
		}
		for _, a := range adapters {
			a.HandleFrame(canID, frame)
		}
	})

	identities, err := profile.Identities()
	if err != nil {
		log.Fatalf("vecud: invalid ECU roster: %v", err)
	}
	info, err := profile.VehicleInfo()
	if err != nil {
		log.Fatalf("vecud: invalid vehicle info: %v", err)
	}
	simCfg := profile.SensorConfig()
	isotpCfg := isotp.DefaultConfig()

	for _, id := range identities {
		clk := clock.Real{}
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		unit := ecu.New(id, simCfg, info, clk, rng, coord, isotpCfg)
		if recorder != nil {
			wireRecorder(unit, recorder)
		}
		if err := coord.Register(unit); err != nil {
			log.Fatalf("vecud: registering ECU %q: %v", id.Name, err)
		}
	}
	coord.Run()

	if driver != nil {
		go func() {
			if err := driver.Listen(coord); err != nil {
				log.Printf("vecud: CAN listener exited: %v", err)
			}
		}()
	}

	return coord, adapters, recorder
}

// openSerialPort opens the configured serial device the way the teacher's
// own testing/simulator.SerialWriter does.
func openSerialPort(profile *config.Profile) (*serial.Port, error) {
	return serial.OpenPort(&serial.Config{
		Name: profile.Serial.Device,
		Baud: profile.Serial.BaudRate,
	})
}

// wireRecorder logs every reassembled request/response payload unit
// handles to recorder, classifying OBD-II vs UDS by service ID range the
// same way Unit.dispatch itself does.
func wireRecorder(unit *ecu.Unit, recorder *capture.Recorder) {
	unit.Observe(func(direction string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		canID := unit.Identity.RequestID
		dir := capture.DirectionRX
		if direction == "tx" {
			canID = unit.Identity.ResponseID
			dir = capture.DirectionTX
		}
		kind := "uds"
		if payload[0] <= 0x0A || (payload[0] >= 0x41 && payload[0] <= 0x4A) {
			kind = "obd"
		}
		data := make([]byte, len(payload))
		copy(data, payload)
		err := recorder.Record(capture.Exchange{
			Timestamp: time.Now(),
			ECUName:   unit.Identity.Name,
			CANID:     canID,
			Direction: dir,
			Kind:      kind,
			Data:      data,
		})
		if err != nil {
			log.Printf("vecud: recording exchange for %s: %v", unit.Identity.Name, err)
		}
	})
}

func applyPresetDTCs(coord *bus.Coordinator, presets map[string][]string) {
	for name, codes := range presets {
		unit, ok := coord.ByName(name)
		if !ok {
			log.Printf("vecud: preset DTC for unknown ECU %q", name)
			continue
		}
		for _, code := range codes {
			if err := unit.InjectDTC(code, true); err != nil {
				log.Printf("vecud: preset DTC %s on %s: %v", code, name, err)
			}
		}
	}
}
