// Package connection implements the §4.2/§5 Connection state machine: an
// IoHandle plus a TransportSocket plus the request's FilterManager, with
// byte-level watermark backpressure on the outbound buffer. One Connection
// exists per accepted downstream (client) socket and, distinctly, per
// leased pool connection on the origin side; both sides share this type
// because the watermark/backpressure rules are identical (§4.6).
package connection

import (
	"sync"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
	"github.com/ravelproxy/ravel/internal/core/transport"
)

// State is the connection-level lifecycle, distinct from the per-request
// upstreamrequest.State machine that rides on top of it.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// Connection pairs one IoHandle with its TransportSocket and owns the
// outbound byte buffer that implements watermark backpressure: once the
// buffer holds HighWatermark bytes or more, OnHighWatermark(true) fires (the
// caller should stop reading the peer it is relaying from); once the
// buffer drains back to zero, OnHighWatermark(false) fires.
type Connection struct {
	disp   *dispatcher.Dispatcher
	handle *iohandle.IoHandle
	socket transport.Socket

	HighWatermark   int
	OnHighWatermark func(raised bool)
	OnClosed        func(err error)

	mu              sync.Mutex
	state           State
	outbound        []byte
	flushing        bool
	watermarkRaised bool
}

func New(disp *dispatcher.Dispatcher, handle *iohandle.IoHandle, socket transport.Socket, highWatermark int) *Connection {
	return &Connection{disp: disp, handle: handle, socket: socket, HighWatermark: highWatermark, state: StateOpen}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) BufferedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound)
}

// Write queues buf for the outbound side and kicks off a flush if one isn't
// already in flight. Must be called from the dispatcher goroutine.
func (c *Connection) Write(buf []byte, endStream bool) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.outbound = append(c.outbound, buf...)
	c.checkHighWatermarkLocked()
	alreadyFlushing := c.flushing
	c.flushing = true
	c.mu.Unlock()

	if !alreadyFlushing {
		go c.flush(endStream)
	}
}

// flush performs the blocking DoWrite calls off the dispatcher goroutine
// (§4.2: writes only ever block the caller, never the dispatcher thread),
// then posts the outcome back.
func (c *Connection) flush(endStream bool) {
	for {
		c.mu.Lock()
		if len(c.outbound) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		chunk := c.outbound
		c.outbound = nil
		c.mu.Unlock()

		action, n, _, err := c.socket.DoWrite(chunk, endStream)
		if err != nil || action == transport.Close {
			c.disp.Post(func() { c.handleWriteError(err) })
			return
		}
		if n < len(chunk) {
			// partial write: requeue the remainder ahead of anything else
			// appended meanwhile.
			c.mu.Lock()
			c.outbound = append(append([]byte(nil), chunk[n:]...), c.outbound...)
			c.mu.Unlock()
		}
		c.disp.Post(c.lowerHighWatermarkIfDrained)
	}
}

func (c *Connection) handleWriteError(err error) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	if c.OnClosed != nil {
		c.OnClosed(err)
	}
}

func (c *Connection) checkHighWatermarkLocked() {
	if c.HighWatermark <= 0 {
		return
	}
	if !c.watermarkRaised && len(c.outbound) >= c.HighWatermark {
		c.watermarkRaised = true
		if c.OnHighWatermark != nil {
			c.OnHighWatermark(true)
		}
	}
}

func (c *Connection) lowerHighWatermarkIfDrained() {
	c.mu.Lock()
	drained := len(c.outbound) == 0
	wasRaised := c.watermarkRaised
	if drained && wasRaised {
		c.watermarkRaised = false
	}
	c.mu.Unlock()
	if drained && wasRaised && c.OnHighWatermark != nil {
		c.OnHighWatermark(false)
	}
}

// Close tears down the handle; idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()
	return c.handle.Close()
}

func (c *Connection) Handle() *iohandle.IoHandle   { return c.handle }
func (c *Connection) Socket() transport.Socket       { return c.socket }
