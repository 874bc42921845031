package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/user/termbridge/internal/config"
	"github.com/user/termbridge/internal/db"
	"github.com/user/termbridge/internal/pty"
	"github.com/user/termbridge/internal/session"
	"github.com/user/termbridge/internal/transport"
)

// runSession connects both channels, spawns the shell and relays the
// session until the shell exits or the session fails.
func runSession(ctx context.Context, cfg *config.Config) error {
	id := uuid.NewString()
	logger := slog.Default().With("session_id", id)

	control, err := transport.Dial(ctx, cfg.ControlPort, cfg.Key, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	defer control.Close()

	data, err := transport.Dial(ctx, cfg.DataPort, cfg.Key, cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("data channel: %w", err)
	}
	defer data.Close()
	logger.Info("connected", "control_port", cfg.ControlPort, "data_port", cfg.DataPort)

	argv, err := cfg.ShellArgv()
	if err != nil {
		return err
	}

	journal := openJournal(ctx, cfg, logger, id)
	defer journal.Close()

	child, err := pty.Start(pty.Options{
		Argv: argv,
		Env:  cfg.Env,
		Cols: cfg.Cols,
		Rows: cfg.Rows,
	})
	if err != nil {
		journal.finish(id, session.Result{}, err)
		return err
	}
	defer child.Close()
	logger.Info("child started", "pid", child.Pid(), "shell", cfg.Shell, "cols", cfg.Cols, "rows", cfg.Rows)
	journal.setPID(ctx, id, child.Pid())

	sess, err := session.New(session.Config{
		ID:       id,
		Control:  control,
		Data:     data,
		Terminal: child,
		Window:   cfg.Window,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	started := time.Now()
	res, runErr := sess.Run(ctx)
	logger.Info("session finished",
		"exit_status", res.ExitStatus,
		"exit_reported", res.ExitReported,
		"sent", humanize.Bytes(uint64(res.BytesSent)),
		"received", humanize.Bytes(uint64(res.BytesReceived)),
		"grants", res.Grants,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	journal.finish(id, res, runErr)
	return runErr
}

// sessionJournal records the session when a journal is configured. Journal
// failures are logged and never affect the session.
type sessionJournal struct {
	db     *db.DB
	logger *slog.Logger
}

func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger, id string) *sessionJournal {
	j := &sessionJournal{logger: logger}
	if cfg.Journal == "" {
		return j
	}

	database, err := db.Open(ctx, cfg.Journal)
	if err != nil {
		logger.Warn("journal unavailable", "path", cfg.Journal, "error", err)
		return j
	}
	err = database.Sessions().Create(ctx, &db.Session{
		ID:              id,
		ControlPort:     cfg.ControlPort,
		DataPort:        cfg.DataPort,
		Shell:           cfg.Shell,
		Cols:            int(cfg.Cols),
		Rows:            int(cfg.Rows),
		WindowSize:      cfg.Window.Size,
		WindowThreshold: cfg.Window.Threshold,
	})
	if err != nil {
		logger.Warn("journal write failed", "error", err)
		_ = database.Close()
		return j
	}
	j.db = database
	return j
}

func (j *sessionJournal) setPID(ctx context.Context, id string, pid int) {
	if j.db == nil {
		return
	}
	if err := j.db.Sessions().SetPID(ctx, id, pid); err != nil {
		j.logger.Warn("journal write failed", "error", err)
	}
}

func (j *sessionJournal) finish(id string, res session.Result, runErr error) {
	if j.db == nil {
		return
	}
	outcome := db.Outcome{
		BytesSent:     res.BytesSent,
		BytesReceived: res.BytesReceived,
		WindowGrants:  res.Grants,
		Err:           runErr,
	}
	if res.ExitReported {
		status := res.ExitStatus
		outcome.ExitStatus = &status
	}
	// The session context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.db.Sessions().Finish(ctx, id, outcome); err != nil {
		j.logger.Warn("journal write failed", "error", err)
	}
}

func (j *sessionJournal) Close() error {
	return j.db.Close()
}
