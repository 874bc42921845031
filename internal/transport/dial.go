package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/user/termbridge/internal/protocol"
)

var ErrHandshake = errors.New("handshake failed")

// Dial connects to port on the loopback interface, disables Nagle's
// algorithm and writes the pairing key once, unframed. The returned
// connection carries only session traffic from then on.
func Dial(ctx context.Context, port int, key string, timeout time.Duration) (*net.TCPConn, error) {
	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("connect %s: unexpected connection type %T", addr, conn)
	}
	if err := tcp.SetNoDelay(true); err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("set no-delay on %s: %w", addr, err)
	}
	if err := protocol.WriteAll(tcp, []byte(key)); err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("%w: write key to %s: %w", ErrHandshake, addr, err)
	}
	return tcp, nil
}
