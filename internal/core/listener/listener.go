// Package listener implements the §4.3 accept loop: one listener goroutine
// accepts connections and round-robin dispatches them across a fixed set of
// worker dispatchers, applying a pre-accept admission hook and per-socket
// TCP tuning. Grounded on the teacher's TCP-tuning idiom
// (internal/adapter/proxy, now removed) and internal/util/network.go.
package listener

import (
	"net"
	"sync/atomic"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
)

// Admit is the §4.3 pre-accept hook, invoked after a connection has been
// round-robin dispatched to a worker but before it is handed to that
// worker: it sees the target worker's own pending_count and max_pending,
// so a worker already saturated with pending requests drops new
// connections with no HTTP response at all (Scenario 5), rather than
// accepting them only to 502 once the request is parsed and routed.
type Admit func(pendingCount, maxPending int) bool

// DefaultAdmit is the straightforward cap check: always admit when
// maxPending <= 0 (unbounded), otherwise admit only while there is still
// room for one more pending entry.
func DefaultAdmit(pendingCount, maxPending int) bool {
	if maxPending <= 0 {
		return true
	}
	return pendingCount < maxPending
}

// WorkerTarget is the subset of a worker the listener needs: a dispatcher
// to post the newly accepted connection onto, a callback that takes
// ownership of it there, and the pending-queue state Admit consults.
type WorkerTarget struct {
	Dispatcher   *dispatcher.Dispatcher
	OnAccept     func(conn net.Conn)
	PendingCount func() int
	MaxPending   int
}

// Listener owns one net.Listener and distributes accepted connections
// round-robin across Workers.
type Listener struct {
	ln      net.Listener
	workers []WorkerTarget
	admit   Admit
	counter atomic.Uint64

	stopCh chan struct{}
}

func New(ln net.Listener, workers []WorkerTarget, admit Admit) *Listener {
	if admit == nil {
		admit = DefaultAdmit
	}
	return &Listener{ln: ln, workers: workers, admit: admit, stopCh: make(chan struct{})}
}

// Serve accepts connections until Stop is called or the listener errors.
// Run it on its own goroutine.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return nil
			default:
				return err
			}
		}

		target := l.nextTarget()
		pendingCount := 0
		if target.PendingCount != nil {
			pendingCount = target.PendingCount()
		}
		if !l.admit(pendingCount, target.MaxPending) {
			conn.Close()
			continue
		}

		tuneTCP(conn)
		target.Dispatcher.Post(func() { target.OnAccept(conn) })
	}
}

func (l *Listener) nextTarget() WorkerTarget {
	idx := l.counter.Add(1) % uint64(len(l.workers))
	return l.workers[idx]
}

func (l *Listener) Stop() error {
	close(l.stopCh)
	return l.ln.Close()
}

func tuneTCP(conn net.Conn) {
	type noDelaySetter interface{ SetNoDelay(bool) error }
	if tc, ok := conn.(noDelaySetter); ok {
		_ = tc.SetNoDelay(true)
	}
	type keepAliveSetter interface{ SetKeepAlive(bool) error }
	if tc, ok := conn.(keepAliveSetter); ok {
		_ = tc.SetKeepAlive(true)
	}
}
