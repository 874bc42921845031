package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ReadBufferPackets bounds how many packets a single read may deliver.
const ReadBufferPackets = 256

var (
	ErrReadFailed  = errors.New("control read failed")
	ErrWriteFailed = errors.New("control write failed")
)

// Handler receives every whole packet decoded from a stream, in order.
// Returning an error stops the read loop.
type Handler interface {
	HandlePacket(Packet) error
}

type HandlerFunc func(Packet) error

func (f HandlerFunc) HandlePacket(p Packet) error { return f(p) }

// Reader decodes fixed size packets from a byte stream that may be split at
// arbitrary boundaries.
type Reader struct {
	r       io.Reader
	h       Handler
	buf     []byte
	pending int
}

func NewReader(r io.Reader, h Handler) *Reader {
	return &Reader{
		r:   r,
		h:   h,
		buf: make([]byte, ReadBufferPackets*PacketSize),
	}
}

// Run reads and dispatches until the stream fails or the handler returns an
// error. Stream failures, including a clean EOF, are wrapped in
// ErrReadFailed; handler errors are returned as-is.
func (r *Reader) Run() error {
	for {
		n, readErr := r.r.Read(r.buf[r.pending:])
		if n < 0 || n > len(r.buf)-r.pending {
			return fmt.Errorf("%w: invalid read count %d", ErrReadFailed, n)
		}
		r.pending += n
		if err := r.dispatch(); err != nil {
			return err
		}
		if readErr != nil {
			return fmt.Errorf("%w: %w", ErrReadFailed, readErr)
		}
		if n == 0 {
			return fmt.Errorf("%w: %w", ErrReadFailed, io.ErrNoProgress)
		}
	}
}

// Pending reports how many bytes of an incomplete packet are buffered.
func (r *Reader) Pending() int { return r.pending }

func (r *Reader) dispatch() error {
	whole := r.pending / PacketSize
	for i := 0; i < whole; i++ {
		p, err := Decode(r.buf[i*PacketSize:])
		if err != nil {
			return err
		}
		if err := r.h.HandlePacket(p); err != nil {
			return err
		}
	}
	used := whole * PacketSize
	r.pending = copy(r.buf, r.buf[used:r.pending])
	return nil
}

// Writer emits packets on a shared stream. WritePacket is safe for
// concurrent use; each packet is written as one contiguous record.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf [PacketSize]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WritePacket(p Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	p.Encode(w.buf[:])
	if err := WriteAll(w.w, w.buf[:]); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, p.Kind, err)
	}
	return nil
}

// WriteAll writes b fully, retrying short writes.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
