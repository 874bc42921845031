package protocol

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"
)

// chunkReader returns the underlying bytes in the given chunk sizes.
type chunkReader struct {
	data   []byte
	chunks []int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := len(c.data)
	if len(c.chunks) > 0 {
		n = c.chunks[0]
		c.chunks = c.chunks[1:]
		if n > len(c.data) {
			n = len(c.data)
		}
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

type collector struct {
	packets []Packet
}

func (c *collector) HandlePacket(p Packet) error {
	c.packets = append(c.packets, p)
	return nil
}

func encodeAll(t *testing.T, packets []Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range packets {
		if err := w.WritePacket(p); err != nil {
			t.Fatalf("WritePacket() error = %v", err)
		}
	}
	return buf.Bytes()
}

func samplePackets(n int) []Packet {
	packets := make([]Packet, 0, n)
	for i := 0; i < n; i++ {
		switch i % 3 {
		case 0:
			packets = append(packets, SetSize(uint16(80+i), uint16(24+i)))
		case 1:
			packets = append(packets, IncreaseWindow(int32(i*100)))
		default:
			packets = append(packets, ChildExitStatus(int32(i)))
		}
	}
	return packets
}

func assertPackets(t *testing.T, got, want []Packet) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("dispatched %d packets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("packet %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReaderOneByteAtATime(t *testing.T) {
	want := samplePackets(20)
	data := encodeAll(t, want)

	c := &collector{}
	err := NewReader(iotest.OneByteReader(bytes.NewReader(data)), c).Run()
	if !errors.Is(err, ErrReadFailed) || !errors.Is(err, io.EOF) {
		t.Fatalf("Run() error = %v, want ErrReadFailed wrapping EOF", err)
	}
	assertPackets(t, c.packets, want)
}

func TestReaderRandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		want := samplePackets(1 + rng.Intn(600))
		data := encodeAll(t, want)

		var chunks []int
		for remaining := len(data); remaining > 0; {
			n := 1 + rng.Intn(3*PacketSize+2)
			chunks = append(chunks, n)
			remaining -= n
		}

		c := &collector{}
		r := NewReader(&chunkReader{data: data, chunks: chunks}, c)
		if err := r.Run(); !errors.Is(err, ErrReadFailed) {
			t.Fatalf("trial %d: Run() error = %v, want ErrReadFailed", trial, err)
		}
		assertPackets(t, c.packets, want)
		if r.Pending() != 0 {
			t.Fatalf("trial %d: Pending() = %d, want 0", trial, r.Pending())
		}
	}
}

func TestReaderLargeSingleRead(t *testing.T) {
	want := samplePackets(3*ReadBufferPackets + 7)
	data := encodeAll(t, want)

	c := &collector{}
	_ = NewReader(bytes.NewReader(data), c).Run()
	assertPackets(t, c.packets, want)
}

func TestReaderRetainsPartialTail(t *testing.T) {
	want := samplePackets(2)
	data := encodeAll(t, want)
	data = append(data, 0x01, 0x02)

	c := &collector{}
	r := NewReader(bytes.NewReader(data), c)
	_ = r.Run()
	assertPackets(t, c.packets, want)
	if r.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", r.Pending())
	}
}

func TestReaderDispatchesBytesReturnedWithError(t *testing.T) {
	want := samplePackets(4)
	data := encodeAll(t, want)

	c := &collector{}
	err := NewReader(iotest.DataErrReader(bytes.NewReader(data)), c).Run()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run() error = %v, want EOF", err)
	}
	assertPackets(t, c.packets, want)
}

func TestReaderStopsOnHandlerError(t *testing.T) {
	data := encodeAll(t, samplePackets(10))
	stop := errors.New("stop")

	calls := 0
	err := NewReader(bytes.NewReader(data), HandlerFunc(func(Packet) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})).Run()
	if err != stop {
		t.Fatalf("Run() error = %v, want handler error", err)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}

type zeroReader struct{}

func (zeroReader) Read([]byte) (int, error) { return 0, nil }

func TestReaderZeroReadIsFailure(t *testing.T) {
	err := NewReader(zeroReader{}, &collector{}).Run()
	if !errors.Is(err, ErrReadFailed) || !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("Run() error = %v, want ErrReadFailed wrapping ErrNoProgress", err)
	}
}

// shortWriter accepts at most max bytes per call.
type shortWriter struct {
	buf bytes.Buffer
	max int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.max {
		p = p[:s.max]
	}
	return s.buf.Write(p)
}

func TestWriterRetriesShortWrites(t *testing.T) {
	sw := &shortWriter{max: 2}
	w := NewWriter(sw)
	if err := w.WritePacket(ChildExitStatus(42)); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	want := []byte{0x02, 0x2a, 0x00, 0x00, 0x00}
	if !bytes.Equal(sw.buf.Bytes(), want) {
		t.Errorf("wrote %x, want %x", sw.buf.Bytes(), want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriterReportsFailure(t *testing.T) {
	err := NewWriter(failingWriter{}).WritePacket(ChildExitStatus(0))
	if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("WritePacket() error = %v, want ErrWriteFailed wrapping ErrClosedPipe", err)
	}
}
