// Package pool implements the §4.6 downstream connection pool: one Pool per
// Origin, holding idle and active PoolConnections (downstream_c in the
// glossary) and driving reconnect/backoff through the worker's Dispatcher.
// Grounded on the teacher's retry/backoff worker pattern
// (internal/adapter/health/worker_pool.go, now removed) and on
// internal/util/backoff.go's CalculateConnectionRetryBackoff.
package pool

import (
	"net"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
	"github.com/ravelproxy/ravel/internal/core/transport"
)

// rttSmoothing is the EMA alpha from spec.md §4.6.
const rttSmoothing = 0.125

// Connection wraps one downstream (origin-facing) socket and its state
// machine. It belongs to exactly one Pool at a time, tracked by being in
// either the Pool's idle slice or its active set (or in neither while it is
// dialing or Down).
type Connection struct {
	origin *domain.Origin
	socket transport.Socket
	handle *iohandle.IoHandle

	state domain.PoolConnectionState

	rtt              time.Duration
	rttSamples       int
	consecutiveFails int

	retryTimer *dispatcher.Timer

	// list pointers; Pool does not use them (it keeps idle connections in a
	// slice and active ones in a map).
	next, prev *Connection
}

// State returns the connection's current PoolConnectionState.
func (c *Connection) State() domain.PoolConnectionState { return c.state }

// Handle exposes the underlying IoHandle so a session can read/write the
// origin socket directly once leased from the pool.
func (c *Connection) Handle() *iohandle.IoHandle { return c.handle }

// Socket exposes the underlying transport.Socket (TCP or TLS).
func (c *Connection) Socket() transport.Socket { return c.socket }

// Origin returns the Origin descriptor this connection belongs to.
func (c *Connection) Origin() *domain.Origin { return c.origin }

// RTT returns the smoothed round-trip estimate; zero until the first sample.
func (c *Connection) RTT() time.Duration { return c.rtt }

// recordRTT folds a new round-trip sample into the EMA (§4.6):
// rtt' = alpha*sample + (1-alpha)*rtt, with the first sample taken as-is.
func (c *Connection) recordRTT(sample time.Duration) {
	if c.rttSamples == 0 {
		c.rtt = sample
	} else {
		c.rtt = time.Duration(rttSmoothing*float64(sample) + (1-rttSmoothing)*float64(c.rtt))
	}
	c.rttSamples++
}

// transitionTo moves the connection to target, enforcing the §3 transition
// table. Returns false (no-op) on an illegal transition.
func (c *Connection) transitionTo(target domain.PoolConnectionState) bool {
	if !c.state.CanTransitionTo(target) {
		return false
	}
	c.state = target
	return true
}

func (c *Connection) markDown(failErr error) {
	c.transitionTo(domain.PoolDown)
	c.consecutiveFails++
	if c.handle != nil {
		c.handle.Close()
	}
}

// dialFunc is substitutable in tests; defaults to net.DialTimeout.
var dialFunc = func(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}
