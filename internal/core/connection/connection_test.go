package connection

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
	"github.com/ravelproxy/ravel/internal/core/transport"
)

type recordingSocket struct {
	mu      sync.Mutex
	written []byte
}

func (s *recordingSocket) Connect(h *iohandle.IoHandle) error { return nil }
func (s *recordingSocket) DoRead(buf []byte) (transport.Action, int, bool, error) {
	return transport.KeepOpen, 0, false, nil
}
func (s *recordingSocket) DoWrite(buf []byte, endStream bool) (transport.Action, int, bool, error) {
	s.mu.Lock()
	s.written = append(s.written, buf...)
	s.mu.Unlock()
	return transport.KeepOpen, len(buf), true, nil
}
func (s *recordingSocket) OnConnected()                               {}
func (s *recordingSocket) SSL() *transport.SSLConnectionInfo          { return nil }
func (s *recordingSocket) CreateIoHandle() *iohandle.IoHandle         { return nil }

func (s *recordingSocket) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func newTestConnection(t *testing.T, highWatermark int) (*Connection, *recordingSocket, *dispatcher.Dispatcher) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	d := dispatcher.New()
	go d.Run()
	t.Cleanup(d.Stop)

	handle := iohandle.New(client)
	socket := &recordingSocket{}
	return New(d, handle, socket, highWatermark), socket, d
}

func TestWriteFlushesToSocket(t *testing.T) {
	c, s, d := newTestConnection(t, 0)
	done := make(chan struct{})
	d.Post(func() {
		c.Write([]byte("hello"), false)
		done <- struct{}{}
	})
	<-done

	deadline := time.After(time.Second)
	for len(s.snapshot()) < 5 {
		select {
		case <-deadline:
			t.Fatal("write never reached the socket")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if string(s.snapshot()) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", s.snapshot())
	}
}

func TestHighWatermarkRaisedAndLowered(t *testing.T) {
	c, _, d := newTestConnection(t, 4)
	var mu sync.Mutex
	var events []bool
	c.OnHighWatermark = func(raised bool) {
		mu.Lock()
		events = append(events, raised)
		mu.Unlock()
	}

	done := make(chan struct{})
	d.Post(func() {
		c.Write([]byte("abcdef"), false)
		done <- struct{}{}
	})
	<-done

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected raise+lower events, got %v", events)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !events[0] {
		t.Fatalf("expected the first event to raise the watermark, got %v", events)
	}
	if events[len(events)-1] {
		t.Fatalf("expected the buffer to eventually drain and lower the watermark, got %v", events)
	}
}
