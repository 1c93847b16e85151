// Package iohandle implements the §4.2 IO Handle: a typed wrapper over a
// file descriptor (here, a net.Conn) exposing connect/read/write/shutdown
// plus file-event registration. Go's runtime already multiplexes sockets
// internally, so readability/writability are reported to the dispatcher by
// a background read pump goroutine per handle rather than raw
// epoll/kqueue — the registration/activation API is kept and the
// underlying reactor is swapped for goroutines, per DESIGN.md. Activated
// events are delivered separately from real ones (see ActivateFileEvents).
package iohandle

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/pkg/pool"
)

// FileEventMask is a bitmask of registered interest.
type FileEventMask uint8

const (
	EventReadable FileEventMask = 1 << iota
	EventWritable
)

var bufPool = pool.NewLitePool(func() []byte { return make([]byte, 32*1024) })

// IoHandle wraps a single net.Conn. One handle belongs to exactly one
// dispatcher for its lifetime.
type IoHandle struct {
	conn net.Conn
	d    *dispatcher.Dispatcher

	cb   func(mask FileEventMask)
	mask atomic.Uint32 // enabled FileEventMask bits

	readMu   sync.Mutex
	readBuf  []byte
	readEOF  bool
	readErr  error

	closed atomic.Bool
}

// New wraps an already-established net.Conn (e.g. accepted by a Listener).
func New(conn net.Conn) *IoHandle {
	return &IoHandle{conn: conn}
}

// Connect dials addr over network. It takes no SNI: TLS, including the
// ClientHello, is left to the caller's transport socket layer (the IO
// handle itself is TLS-agnostic; see internal/core/transport).
func Connect(network, addr string) (*IoHandle, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// InitializeFileEvent registers cb and starts the background read pump.
// mask is the initial set of enabled events.
func (h *IoHandle) InitializeFileEvent(d *dispatcher.Dispatcher, cb func(mask FileEventMask), mask FileEventMask) {
	h.d = d
	h.cb = cb
	h.mask.Store(uint32(mask))
	if mask&EventReadable != 0 {
		go h.readPump()
	}
}

// EnableFileEvents adds bits to the enabled mask and, if EventReadable was
// just enabled, starts the read pump if not already running.
func (h *IoHandle) EnableFileEvents(mask FileEventMask) {
	prev := FileEventMask(h.mask.Load())
	h.mask.Store(uint32(prev | mask))
	if mask&EventReadable != 0 && prev&EventReadable == 0 {
		go h.readPump()
	}
}

func (h *IoHandle) DisableFileEvents(mask FileEventMask) {
	prev := FileEventMask(h.mask.Load())
	h.mask.Store(uint32(prev &^ mask))
}

// ActivateFileEvents queues a synthetic event as its own callback
// invocation with exactly mask; it is not merged with a real event the read
// pump has posted, so the callback can run once for each. current selects same-iteration
// delivery (the source's counter value 1); otherwise next-iteration
// delivery (counter value 2).
func (h *IoHandle) ActivateFileEvents(mask FileEventMask, current bool) {
	if h.d == nil {
		return
	}
	fire := func() {
		if h.cb != nil {
			h.cb(mask)
		}
	}
	if current {
		h.d.ScheduleCurrent(fire)
	} else {
		h.d.ScheduleNext(fire)
	}
}

// readPump performs blocking reads off the dispatcher thread and buffers
// the result, then posts a readable event to the owning dispatcher. Read()
// itself never blocks: it only drains what the pump has already buffered.
func (h *IoHandle) readPump() {
	tmp := bufPool.Get()
	defer bufPool.Put(tmp)

	for {
		if h.closed.Load() {
			return
		}
		if FileEventMask(h.mask.Load())&EventReadable == 0 {
			return
		}
		n, err := h.conn.Read(tmp)
		if n > 0 {
			h.readMu.Lock()
			h.readBuf = append(h.readBuf, tmp[:n]...)
			h.readMu.Unlock()
		}
		if err != nil {
			h.readMu.Lock()
			if errors.Is(err, io.EOF) {
				h.readEOF = true
			} else {
				h.readErr = err
			}
			h.readMu.Unlock()
			h.postReadable()
			return
		}
		h.postReadable()
	}
}

func (h *IoHandle) postReadable() {
	if h.d == nil || h.cb == nil {
		return
	}
	h.d.Post(func() {
		if FileEventMask(h.mask.Load())&EventReadable != 0 {
			h.cb(EventReadable)
		}
	})
}

// Read drains up to len(buf) buffered bytes. Returns (n, eof, err); eof and
// err are mutually exclusive and only reported once the buffer is drained.
func (h *IoHandle) Read(buf []byte) (n int, eof bool, err error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()
	if len(h.readBuf) > 0 {
		n = copy(buf, h.readBuf)
		h.readBuf = h.readBuf[n:]
		return n, false, nil
	}
	if h.readErr != nil {
		return 0, false, h.readErr
	}
	return 0, h.readEOF, nil
}

// Write performs a direct (blocking) write; callers on the dispatcher
// thread should only call this when the connection's output buffer is
// below its high watermark (spec.md §4.6) to bound how long the thread can
// stall.
func (h *IoHandle) Write(buf []byte) (int, error) {
	return h.conn.Write(buf)
}

func (h *IoHandle) Shutdown(how string) error {
	type closeWriter interface{ CloseWrite() error }
	type closeReader interface{ CloseRead() error }
	switch how {
	case "write":
		if cw, ok := h.conn.(closeWriter); ok {
			return cw.CloseWrite()
		}
	case "read":
		if cr, ok := h.conn.(closeReader); ok {
			return cr.CloseRead()
		}
	}
	return nil
}

func (h *IoHandle) Close() error {
	h.closed.Store(true)
	return h.conn.Close()
}

func (h *IoHandle) LocalAddress() net.Addr  { return h.conn.LocalAddr() }
func (h *IoHandle) PeerAddress() net.Addr   { return h.conn.RemoteAddr() }
func (h *IoHandle) Conn() net.Conn          { return h.conn }
