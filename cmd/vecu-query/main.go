// Command vecu-query dumps a capture database's recorded exchanges for one
// ECU and time window as JSON, adapted from the teacher's cmd/query.
package main

import (
	"encoding/json"
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
		outFile string
	)

	flag.StringVar(&dbPath, "db", "capture.db", "Path to the capture database")
	flag.StringVar(&ecuName, "ecu", "", "ECU name to query (required)")
	flag.DurationVar(&since, "since", time.Hour, "How far back from now to query")
	flag.StringVar(&outFile, "output", "", "Write JSON to this file instead of stdout")
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

	fmt.Printf("Queried %d exchanges for %q between %s and %s\n",
		len(exchanges), ecuName, start.Format(time.RFC3339), end.Format(time.RFC3339))

	out := os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exchanges); err != nil {
		log.Fatalf("Failed to encode exchanges: %v", err)
	}
}
