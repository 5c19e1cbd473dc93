/*
replay prints a run's trace file in human-readable form, one line per
recorded stage, for debugging a run after the fact without querying the
database.

Usage:

	go run cmd/replay/main.go -run-id <id> [-trace-dir <dir>]

Flags:

	-run-id string
	    Run ID to replay (required)
	-trace-dir string
	    Trace directory (default "./traces", or TRACE_DIR env)

Example:

	go run cmd/replay/main.go -run-id 3fa2c1e0-... -trace-dir ./traces
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"rlmcore/internal/rlm/trace"
)

func main() {
	runID := flag.String("run-id", "", "Run ID to replay (required)")
	traceDir := flag.String("trace-dir", defaultTraceDir(), "Trace directory (TRACE_DIR env)")
	flag.Parse()

	if *runID == "" {
		fmt.Fprintln(os.Stderr, "error: -run-id is required")
		os.Exit(1)
	}

	lines, err := trace.ReadLines(*traceDir, *runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(lines) == 0 {
		fmt.Fprintf(os.Stderr, "no trace entries for run %s\n", *runID)
		os.Exit(1)
	}

	for _, line := range lines {
		fmt.Println(trace.Summarize(line))
	}
}

func defaultTraceDir() string {
	if v := os.Getenv("TRACE_DIR"); v != "" {
		return v
	}
	return "./traces"
}
