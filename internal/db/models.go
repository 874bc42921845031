package db

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusFailed  = "failed"
)

// Session is one journal row: how a session was started and how it ended.
type Session struct {
	ID              string    `json:"id"`
	ControlPort     int       `json:"control_port"`
	DataPort        int       `json:"data_port"`
	Shell           string    `json:"shell"`
	PID             int       `json:"pid"`
	Cols            int       `json:"cols"`
	Rows            int       `json:"rows"`
	WindowSize      int32     `json:"window_size"`
	WindowThreshold int32     `json:"window_threshold"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	// ExitStatus is nil until the child has been reaped and reported.
	ExitStatus    *int   `json:"exit_status,omitempty"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
	WindowGrants  int64  `json:"window_grants"`
	Error         string `json:"error,omitempty"`
}

// Outcome is what a finished session reports back to the journal.
type Outcome struct {
	ExitStatus    *int
	BytesSent     int64
	BytesReceived int64
	WindowGrants  int64
	Err           error
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseOptionalTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(raw)
}

func nullIfNil(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
