// Package trace implements the Trace Logger (C8): a per-run append-only
// JSON-lines file that remains the system of record for replay, with an
// optional best-effort ClickHouse mirror for ad-hoc analytical queries.
package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Line is one JSON-lines trace entry.
type Line struct {
	TS      string         `json:"ts"`
	RunID   string         `json:"run_id"`
	Stage   string         `json:"stage"` // plan | examine | decision | error
	Payload map[string]any `json:"payload"`
	Meta    map[string]any `json:"meta"`
}

// Mirror double-writes trace lines into an analytical store. A mirror
// failure is logged and never blocks the JSON-lines write, which remains
// authoritative for replay.
type Mirror interface {
	Insert(ctx context.Context, line Line) error
}

// Logger appends Lines to {traceDir}/{run_id}.jsonl, opening the file in
// append mode on every call so concurrent writers from different processes
// interleave safely at the OS level.
type Logger struct {
	traceDir string
	mirror   Mirror
}

// New constructs a Logger. mirror may be nil to disable the ClickHouse
// mirror entirely.
func New(traceDir string, mirror Mirror) *Logger {
	return &Logger{traceDir: traceDir, mirror: mirror}
}

func (l *Logger) path(runID string) string {
	return filepath.Join(l.traceDir, runID+".jsonl")
}

// Open ensures the trace directory exists so the first Append doesn't race
// against a missing parent directory.
func (l *Logger) Open(ctx context.Context, runID string) error {
	if err := os.MkdirAll(l.traceDir, 0o755); err != nil {
		return fmt.Errorf("trace: open: %w", err)
	}
	return nil
}

// Append writes one line for stage with payload/meta, stamping the current
// UTC time. Mirror failures are swallowed (logged, non-fatal); JSON-lines
// write failures are returned since the file is the system of record.
func (l *Logger) Append(ctx context.Context, runID, stage string, payload, meta map[string]any) error {
	line := Line{
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		RunID:   runID,
		Stage:   stage,
		Payload: payload,
		Meta:    meta,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("trace: marshal: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(l.traceDir, 0o755); err != nil {
		return fmt.Errorf("trace: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path(runID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("trace: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("trace: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("trace: flush: %w", err)
	}

	if l.mirror != nil {
		if err := l.mirror.Insert(ctx, line); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Str("stage", stage).Msg("trace clickhouse mirror insert failed")
		}
	}
	return nil
}

// Stream copies a run's raw JSON-lines file to w verbatim, for the
// GET /v1/rlm/runs/{run_id}/trace endpoint.
func (l *Logger) Stream(w io.Writer, runID string) error {
	f, err := os.Open(l.path(runID))
	if err != nil {
		return fmt.Errorf("trace: stream: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ReadLines parses a run's trace file into Lines for programmatic replay.
func ReadLines(traceDir, runID string) ([]Line, error) {
	f, err := os.Open(filepath.Join(traceDir, runID+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("trace: decode line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: scan: %w", err)
	}
	return lines, nil
}

// Summarize renders a Line as the "{ts} {stage} {summary}" replay format.
func Summarize(line Line) string {
	return fmt.Sprintf("%s %s %s", line.TS, line.Stage, summaryOf(line))
}

func summaryOf(line Line) string {
	switch line.Stage {
	case "error":
		if msg, ok := line.Payload["error"].(string); ok {
			return msg
		}
		return "error"
	case "decision":
		preview, _ := line.Payload["final_answer_preview"].(string)
		count, _ := line.Payload["citations_count"]
		return fmt.Sprintf("citations=%v preview=%q", count, preview)
	default:
		data, _ := json.Marshal(line.Payload)
		return string(data)
	}
}
