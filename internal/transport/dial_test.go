package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func listen(t *testing.T) (*net.TCPListener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.(*net.TCPListener), ln.Addr().(*net.TCPAddr).Port
}

func TestDialWritesKeyFirst(t *testing.T) {
	ln, port := listen(t)

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	conn, err := Dial(context.Background(), port, "secret-key", time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if _, err := conn.Write([]byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = conn.Close()

	select {
	case data := <-received:
		if string(data) != "secret-keypayload" {
			t.Errorf("received %q, want %q", data, "secret-keypayload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer")
	}
}

func TestDialRefused(t *testing.T) {
	ln, port := listen(t)
	_ = ln.Close()

	if _, err := Dial(context.Background(), port, "k", time.Second); err == nil {
		t.Fatal("Dial() error = nil, want connection failure")
	}
}

func TestDialHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, port := listen(t)
	if _, err := Dial(ctx, port, "k", time.Second); err == nil {
		t.Fatal("Dial() error = nil, want context error")
	}
}
