package session

import (
	"errors"
	"fmt"

	"github.com/user/termbridge/internal/protocol"
)

// dispatch applies control packets until the control channel fails or a
// packet is rejected. Once the exit status has been reported, the peer
// hanging up is expected; nothing can grant credit any more, so the send
// window is closed instead of failing the session.
func (s *Session) dispatch() error {
	err := protocol.NewReader(s.control, dispatcher{s}).Run()
	if errors.Is(err, protocol.ErrReadFailed) {
		if s.exitReported.Load() {
			s.log.Debug("control channel closed after exit report", "error", err)
			s.win.Close()
			return nil
		}
		return fmt.Errorf("%w: %w", ErrConnectionBroken, err)
	}
	return err
}

type dispatcher struct {
	s *Session
}

func (d dispatcher) HandlePacket(p protocol.Packet) error {
	d.s.log.Debug("control packet", "packet", p)

	switch p.Kind {
	case protocol.KindSetSize:
		if err := d.s.term.Resize(p.Cols, p.Rows); err != nil {
			d.s.log.Warn("resize failed", "cols", p.Cols, "rows", p.Rows, "error", err)
		}
		return nil
	case protocol.KindIncreaseWindow:
		if err := d.s.win.Grant(p.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		d.s.grants.Add(1)
		return nil
	case protocol.KindChildExitStatus:
		return fmt.Errorf("%w: %s is only sent by the backend", ErrUnexpectedPacket, p.Kind)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, p.Kind)
	}
}
