// Command vecu-replay plays back a recorded capture session at its original
// (or scaled) timing, printing each exchange as it fires, adapted from the
// teacher's cmd/replay.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/obdsim/vecu/internal/capture"
)

func main() {
	var (
		dbPath  string
		ecuName string
		since   time.Duration
		speed   float64
	)

	flag.StringVar(&dbPath, "db", "capture.db", "Path to the capture database")
	flag.StringVar(&ecuName, "ecu", "", "ECU name to replay (required)")
	flag.DurationVar(&since, "since", time.Hour, "How far back from now to pull the session")
	flag.Float64Var(&speed, "speed", 1.0, "Replay speed multiplier (1.0 = real-time)")
	flag.Parse()

	if ecuName == "" {
		fmt.Println("Please specify an ECU name with -ecu")
		os.Exit(1)
	}

	recorder, err := capture.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open capture database: %v", err)
	}
	defer recorder.Close()

	end := time.Now()
	start := end.Add(-since)
	exchanges, err := recorder.Session(ecuName, start, end)
	if err != nil {
		log.Fatalf("Failed to query session: %v", err)
	}
	if len(exchanges) == 0 {
		fmt.Printf("No exchanges found for %q in the last %s\n", ecuName, since)
		return
	}

	fmt.Printf("Replaying %d exchanges for %q at %.1fx speed\n", len(exchanges), ecuName, speed)

	replayer := capture.NewReplayer(exchanges)
	replayer.SetSpeed(speed)

	if err := replayer.Play(func(e capture.Exchange) {
		fmt.Printf("[%s] %s 0x%03X %s: % X\n",
			e.Timestamp.Format(time.RFC3339Nano), e.Direction, e.CANID, e.Kind, e.Data)
	}); err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
}
