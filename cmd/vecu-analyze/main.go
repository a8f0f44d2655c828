// Command vecu-analyze runs internal/analysis over a recorded capture
// session and prints the resulting metrics, adapted from the teacher's
// cmd/analyze.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/obdsim/vecu/internal/analysis"
	"github.com/obdsim/vecu/internal/capture"
)

func main() {
	var (
		dbPath  string
		ecuName string
		vin     string
		since   time.Duration
		asJSON  bool
	)

	flag.StringVar(&dbPath, "db", "capture.db", "Path to the capture database")
	flag.StringVar(&ecuName, "ecu", "", "ECU name to analyze (required)")
	flag.StringVar(&vin, "vin", "", "VIN to record in the session summary")
	flag.DurationVar(&since, "since", time.Hour, "How far back from now to pull the session")
	flag.BoolVar(&asJSON, "json", false, "Print the full analysis as JSON instead of a summary")
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

	analyzer := analysis.NewAnalyzer(exchanges, vin, analysis.DefaultOptions())
	result, err := analyzer.Analyze()
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("Failed to encode analysis: %v", err)
		}
		return
	}

	fmt.Printf("\nSession Analysis for %s\n", ecuName)
	fmt.Printf("=================================\n")
	fmt.Printf("Duration: %s\n", result.SessionInfo.Duration)
	fmt.Printf("Total Exchanges: %d\n", result.SessionInfo.TotalExchanges)
	fmt.Printf("Unique CAN IDs: %d\n", result.CANActivity.UniqueIDs)
	fmt.Printf("\nPerformance Metrics:\n")
	fmt.Printf("- Max RPM: %.2f\n", result.Performance.RPM.Max)
	fmt.Printf("- Average RPM: %.2f\n", result.Performance.RPM.Mean)
	fmt.Printf("- Max Speed: %.2f km/h\n", result.Performance.Speed.Max)
	fmt.Printf("- Average Speed: %.2f km/h\n", result.Performance.Speed.Mean)
	fmt.Printf("- Exchange Rate: %.2f/sec\n", result.Performance.DataRate)
	fmt.Printf("\nDriving Behavior:\n")
	fmt.Printf("- Idle Time: %.1f%%\n", result.DrivingBehavior.IdleTime)
	fmt.Printf("- Rapid Accelerations: %d\n", result.DrivingBehavior.RapidAccel)
	fmt.Printf("- Rapid Decelerations: %d\n", result.DrivingBehavior.RapidDecel)
	fmt.Printf("- Phases Detected: %d\n", len(result.DrivingBehavior.Phases))
	fmt.Printf("\nDiagnostics:\n")
	fmt.Printf("- DTC Count: %d\n", result.Diagnostics.DTCCount)
	if len(result.Diagnostics.UniqueDTCs) > 0 {
		fmt.Printf("- Unique DTCs: %v\n", result.Diagnostics.UniqueDTCs)
	}
}
