// Package telemetry pushes periodic fleet readings to InfluxDB, adapted from
// the teacher's own internal/datastore.InfluxDBStore.SaveTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/obdsim/vecu/internal/bus"
)

// Config names the InfluxDB endpoint a Pusher writes to.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Pusher periodically snapshots every ECU on a bus.Coordinator and writes one
// point per ECU to InfluxDB, tagged by VIN and ECU name.
type Pusher struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking

	coord *bus.Coordinator
	vin   string

	stop chan struct{}
	done chan struct{}
}

// New connects to InfluxDB and returns a Pusher for coord's fleet. The
// connection is verified with a Ping before returning, matching the
// teacher's NewInfluxDBStore.
func New(cfg Config, coord *bus.Coordinator, vin string) (*Pusher, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	if _, err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry: connecting to influxdb: %w", err)
	}

	return &Pusher{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		coord:    coord,
		vin:      vin,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins writing one point per ECU every interval until Close is
// called. Write errors are logged, not fatal, since a dropped telemetry
// point should never interrupt the simulation.
func (p *Pusher) Start(interval time.Duration) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.pushOnce()
			}
		}
	}()
}

func (p *Pusher) pushOnce() {
	now := time.Now()
	for _, unit := range p.coord.List() {
		snap := unit.Sim.Snapshot()

		point := influxdb2.NewPoint(
			"ecu_telemetry",
			map[string]string{
				"vin": p.vin,
				"ecu": unit.Identity.Name,
			},
			map[string]interface{}{
				"engine_state":        int(snap.EngineState),
				"rpm":                 snap.RPM,
				"engine_load":         snap.EngineLoad,
				"coolant_temp":        snap.CoolantTemp,
				"intake_air_temp":     snap.IntakeAirTemp,
				"maf":                 snap.MAF,
				"timing_advance":      snap.TimingAdvance,
				"throttle_position":   snap.ThrottlePosition,
				"fuel_level":          snap.FuelLevel,
				"fuel_pressure":       snap.FuelPressure,
				"fuel_rate":           snap.FuelRate,
				"vehicle_speed":       snap.VehicleSpeed,
				"distance_traveled":   snap.DistanceTraveled,
				"distance_with_mil":   snap.DistanceWithMIL,
				"distance_since_clear": snap.DistanceSinceClear,
				"battery_voltage":     snap.BatteryVoltage,
				"o2_voltage":          snap.O2Voltage,
				"stft":                snap.ShortTermFuelTrim,
				"ltft":                snap.LongTermFuelTrim,
				"mil_on":              unit.Registry.IsMILOn(),
				"dtc_count":           unit.Registry.Count(),
			},
			now,
		)

		if err := p.writeAPI.WritePoint(context.Background(), point); err != nil {
			log.Printf("telemetry: writing point for %s: %v", unit.Identity.Name, err)
		}
	}
}

// Close stops the push loop and closes the InfluxDB client, blocking until
// the loop has exited.
func (p *Pusher) Close() {
	close(p.stop)
	<-p.done
	p.client.Close()
}
