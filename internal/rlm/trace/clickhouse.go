package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseMirror double-writes trace lines into an rlm_trace_events table
// for ad-hoc analytical queries. It is never the system of record: a mirror
// failure is logged by the caller and never blocks the JSON-lines write.
type ClickHouseMirror struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseMirror opens a connection and pings it with a bounded
// timeout. An empty dsn disables the mirror: (nil, nil) is returned rather
// than an error, since the mirror is an optional feature, not a dependency.
func NewClickHouseMirror(ctx context.Context, dsn, database, table string, timeoutSeconds int) (*ClickHouseMirror, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("trace: parse clickhouse dsn: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("trace: open clickhouse connection: %w", err)
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("trace: ping clickhouse: %w", err)
	}

	if table == "" {
		table = "rlm_trace_events"
	}

	return &ClickHouseMirror{conn: conn, table: table, timeout: timeout}, nil
}

// Insert writes one trace line into the mirror table.
func (m *ClickHouseMirror) Insert(ctx context.Context, line Line) error {
	payload, err := json.Marshal(line.Payload)
	if err != nil {
		return fmt.Errorf("trace: marshal payload: %w", err)
	}
	meta, err := json.Marshal(line.Meta)
	if err != nil {
		return fmt.Errorf("trace: marshal meta: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, line.TS)
	if err != nil {
		ts = time.Now().UTC()
	}

	ctxExec, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	q := fmt.Sprintf(
		"INSERT INTO %s (run_id, ts, stage, payload, meta) VALUES (?, ?, ?, ?, ?)",
		m.table,
	)
	return m.conn.Exec(ctxExec, q, line.RunID, ts, line.Stage, string(payload), string(meta))
}

// Close releases the underlying connection.
func (m *ClickHouseMirror) Close() error {
	return m.conn.Close()
}
