// Package session relays one shell session between a pseudo-terminal and a
// remote frontend connected over a control channel and a data channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/user/termbridge/internal/protocol"
	"github.com/user/termbridge/internal/window"
)

var (
	ErrConnectionBroken = errors.New("connection broken")
	ErrProtocol         = errors.New("protocol violation")
	ErrUnexpectedPacket = errors.New("unexpected packet")
	ErrReapFailed       = errors.New("failed to reap child")
)

const (
	sendBufferSize = 32 * 1024
	recvBufferSize = 8 * 1024
)

// Terminal is the pseudo-terminal side of a session: the shell's output is
// read from it and remote input is written to it.
type Terminal interface {
	io.ReadWriter
	Resize(cols, rows uint16) error
	// Wait blocks until the child exits and returns its exit status.
	Wait() (int, error)
	// Close hangs up the child and releases the terminal.
	Close() error
}

type Config struct {
	ID       string
	Control  io.ReadWriteCloser
	Data     io.ReadWriteCloser
	Terminal Terminal
	Window   window.Params
	Logger   *slog.Logger
}

// Result summarizes a finished session.
type Result struct {
	ExitStatus    int
	ExitReported  bool
	BytesSent     int64
	BytesReceived int64
	Grants        int64
}

// Session owns everything shared by the session workers. It is used for a
// single Run.
type Session struct {
	id      string
	control io.ReadWriteCloser
	data    io.ReadWriteCloser
	term    Terminal
	win     *window.Window
	out     *protocol.Writer
	log     *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	grants   atomic.Int64

	exitReported atomic.Bool
	sendDone     chan struct{}

	mu           sync.Mutex
	err          error
	teardownOnce sync.Once
}

func New(cfg Config) (*Session, error) {
	if cfg.Control == nil || cfg.Data == nil || cfg.Terminal == nil {
		return nil, errors.New("session: control, data and terminal are required")
	}
	win, err := window.New(cfg.Window)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ID != "" {
		logger = logger.With("session_id", cfg.ID)
	}

	return &Session{
		id:       cfg.ID,
		control:  cfg.Control,
		data:     cfg.Data,
		term:     cfg.Terminal,
		win:      win,
		out:      protocol.NewWriter(cfg.Control),
		log:      logger,
		sendDone: make(chan struct{}),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Window exposes the send window, mainly for observation.
func (s *Session) Window() *window.Window { return s.win }

// Run starts the send pump, the receive pump and the control dispatcher,
// waits for the child to exit, reports its status to the frontend and joins
// the workers. The first fatal condition tears the whole session down and is
// returned; no exit status is reported in that case.
func (s *Session) Run(ctx context.Context) (Result, error) {
	var g errgroup.Group
	g.Go(func() error {
		defer close(s.sendDone)
		return s.check(s.sendPump())
	})
	g.Go(func() error { return s.check(s.recvPump()) })
	g.Go(func() error { return s.check(s.dispatch()) })

	stop := context.AfterFunc(ctx, func() { s.fail(ctx.Err()) })
	defer stop()

	status, waitErr := s.term.Wait()
	if err := s.Err(); err != nil {
		_ = g.Wait()
		return s.result(status), err
	}
	if waitErr != nil {
		s.fail(fmt.Errorf("%w: %w", ErrReapFailed, waitErr))
		_ = g.Wait()
		return s.result(status), s.Err()
	}
	s.log.Info("child exited", "status", status)

	s.exitReported.Store(true)
	if err := s.out.WritePacket(protocol.ChildExitStatus(int32(status))); err != nil {
		s.exitReported.Store(false)
		s.fail(fmt.Errorf("%w: %w", ErrConnectionBroken, err))
		_ = g.Wait()
		return s.result(status), s.Err()
	}

	// The terminal still holds whatever the child wrote before exiting.
	<-s.sendDone
	s.teardown()
	_ = g.Wait()
	return s.result(status), s.Err()
}

// Err returns the first fatal error recorded by any worker.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) result(status int) Result {
	return Result{
		ExitStatus:    status,
		ExitReported:  s.exitReported.Load(),
		BytesSent:     s.sent.Load(),
		BytesReceived: s.received.Load(),
		Grants:        s.grants.Load(),
	}
}

func (s *Session) check(err error) error {
	if err != nil {
		s.fail(err)
	}
	return err
}

// fail records err if it is the first fatal error and tears the session
// down so every worker and the child wait observe an end of stream.
func (s *Session) fail(err error) {
	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()

	if first {
		s.log.Error("session failed", "error", err)
	}
	s.teardown()
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.win.Close()
		_ = s.control.Close()
		_ = s.data.Close()
		_ = s.term.Close()
	})
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// shutdown ends both directions of c, letting the peer observe end of
// stream while the descriptor itself stays owned by the session.
func shutdown(c io.Closer) {
	if hc, ok := c.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
		return
	}
	_ = c.Close()
}
