package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
)

// SignaledExitStatus is reported for a child that did not exit normally,
// for example one killed by a signal.
const SignaledExitStatus = 1

var ErrEmptyCommand = errors.New("pty: command must not be empty")

// Options describes the process to start inside a new pseudo-terminal.
type Options struct {
	Argv []string
	Env  []string
	Dir  string
	Cols uint16
	Rows uint16
}

// Child is a process attached to the slave side of a pseudo-terminal. Reads
// and writes go to the master side.
type Child struct {
	cmd  *exec.Cmd
	ptmx *os.File

	waitOnce sync.Once
	status   int
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// Start allocates a pseudo-terminal of the given size and forks opts.Argv
// into it as a session leader with the pty as its controlling terminal.
func Start(opts Options) (*Child, error) {
	if len(opts.Argv) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: opts.Cols,
		Rows: opts.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("pty: start %q: %w", opts.Argv[0], err)
	}

	return &Child{cmd: cmd, ptmx: ptmx}, nil
}

func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Read returns terminal output. Once the child has exited and its output is
// drained the kernel reports EIO, which callers treat as end of stream.
func (c *Child) Read(p []byte) (int, error) { return c.ptmx.Read(p) }

func (c *Child) Write(p []byte) (int, error) { return c.ptmx.Write(p) }

func (c *Child) Resize(cols, rows uint16) error {
	return creackpty.Setsize(c.ptmx, &creackpty.Winsize{
		Cols: cols,
		Rows: rows,
	})
}

// Wait reaps the child and returns its exit status: the exit code for a
// normal exit, SignaledExitStatus otherwise. Only the first call reaps;
// later calls return the same result.
func (c *Child) Wait() (int, error) {
	c.waitOnce.Do(func() {
		c.status, c.waitErr = exitStatus(c.cmd.Wait())
	})
	return c.status, c.waitErr
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fmt.Errorf("pty: wait: %w", err)
	}
	if exitErr.Exited() {
		return exitErr.ExitCode(), nil
	}
	return SignaledExitStatus, nil
}

// Close hangs up the child and releases the master side. Safe to call more
// than once.
func (c *Child) Close() error {
	c.closeOnce.Do(func() {
		// Interactive shells ignore SIGTERM.
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(syscall.SIGHUP)
		}
		c.closeErr = c.ptmx.Close()
	})
	return c.closeErr
}
