package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, control_port, data_port, shell, pid, cols, rows, window_size, window_threshold, status, started_at, ended_at, exit_status, bytes_sent, bytes_received, window_grants, error`

func (r *SessionRepo) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = nowUTC()
	}
	if session.Status == "" {
		session.Status = StatusRunning
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (id, control_port, data_port, shell, pid, cols, rows, window_size, window_threshold, status, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, session.ID, session.ControlPort, session.DataPort, session.Shell, session.PID, session.Cols, session.Rows, session.WindowSize, session.WindowThreshold, session.Status, formatTimestamp(session.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Finish records how session id ended. A session with an error is marked
// failed, otherwise exited.
func (r *SessionRepo) Finish(ctx context.Context, id string, outcome Outcome) error {
	status := StatusExited
	errText := ""
	if outcome.Err != nil {
		status = StatusFailed
		errText = outcome.Err.Error()
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE sessions
SET status = ?, ended_at = ?, exit_status = ?, bytes_sent = ?, bytes_received = ?, window_grants = ?, error = ?
WHERE id = ?
`, status, formatTimestamp(nowUTC()), nullIfNil(outcome.ExitStatus), outcome.BytesSent, outcome.BytesReceived, outcome.WindowGrants, errText, id)
	if err != nil {
		return fmt.Errorf("failed to finish session %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for session %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("session %q not found", id)
	}
	return nil
}

func (r *SessionRepo) SetPID(ctx context.Context, id string, pid int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET pid = ? WHERE id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("failed to set pid for session %q: %w", id, err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %q: %w", id, err)
	}
	return s, nil
}

type SessionFilter struct {
	Status string
	Limit  int
}

func (r *SessionRepo) List(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []any{}
	where := []string{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var startedAtRaw, endedAtRaw string
	var exitStatus sql.NullInt64
	if err := row.Scan(&s.ID, &s.ControlPort, &s.DataPort, &s.Shell, &s.PID, &s.Cols, &s.Rows, &s.WindowSize, &s.WindowThreshold, &s.Status, &startedAtRaw, &endedAtRaw, &exitStatus, &s.BytesSent, &s.BytesReceived, &s.WindowGrants, &s.Error); err != nil {
		return nil, err
	}

	var err error
	s.StartedAt, err = parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	s.EndedAt, err = parseOptionalTimestamp(endedAtRaw)
	if err != nil {
		return nil, err
	}
	if exitStatus.Valid {
		status := int(exitStatus.Int64)
		s.ExitStatus = &status
	}
	return &s, nil
}
