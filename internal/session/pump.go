package session

import (
	"errors"
	"fmt"

	"github.com/user/termbridge/internal/protocol"
	"github.com/user/termbridge/internal/window"
)

// sendPump copies terminal output to the data channel, spending window
// credit for every byte. It ends once the terminal reports end of stream,
// shutting the data channel down so the frontend sees the output is complete.
func (s *Session) sendPump() error {
	buf := make([]byte, sendBufferSize)
	for {
		credit, err := s.win.Await()
		if errors.Is(err, window.ErrClosed) {
			shutdown(s.data)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}

		n := len(buf)
		if int(credit) < n {
			n = int(credit)
		}
		nr, readErr := s.term.Read(buf[:n])
		if nr > 0 {
			if !s.win.TryConsume(int32(nr)) {
				return fmt.Errorf("send window: read %d bytes with %d credit", nr, credit)
			}
			if err := protocol.WriteAll(s.data, buf[:nr]); err != nil {
				return fmt.Errorf("%w: data write: %w", ErrConnectionBroken, err)
			}
			s.sent.Add(int64(nr))
		}
		if readErr != nil {
			s.log.Debug("terminal output ended", "error", readErr, "bytes_sent", s.sent.Load())
			shutdown(s.data)
			return nil
		}
	}
}

// recvPump copies data channel input to the terminal. Terminal write errors
// are ignored so input keeps draining after the child has exited.
func (s *Session) recvPump() error {
	buf := make([]byte, recvBufferSize)
	for {
		n, err := s.data.Read(buf)
		if n > 0 {
			if werr := protocol.WriteAll(s.term, buf[:n]); werr != nil {
				s.log.Debug("terminal write failed", "error", werr)
			}
			s.received.Add(int64(n))
		}
		if err != nil {
			s.log.Debug("data input ended", "error", err, "bytes_received", s.received.Load())
			return nil
		}
	}
}
