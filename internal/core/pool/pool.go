package pool

import (
	"sync"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
	"github.com/ravelproxy/ravel/internal/core/transport"
	"github.com/ravelproxy/ravel/internal/util"
)

// Pool owns every Connection for one Origin on one worker. The invariant
// from spec.md §4.6 is:
//
//	len(active) + len(idle) + downInRetry == origin.TargetConnCount
//
// onConnectFailed counts a connection into downInRetry when it goes Down and
// retry counts it back out when it redials; a connection that is still
// dialing is in none of the three, so the sum is short of the target until
// its dial completes.
type Pool struct {
	mu sync.Mutex

	origin *domain.Origin
	disp   *dispatcher.Dispatcher

	idle   []*Connection
	active map[*Connection]struct{}

	downInRetry int
}

func New(origin *domain.Origin, disp *dispatcher.Dispatcher) *Pool {
	p := &Pool{
		origin: origin,
		disp:   disp,
		active: make(map[*Connection]struct{}),
	}
	return p
}

// Origin returns the descriptor this pool targets.
func (p *Pool) Origin() *domain.Origin { return p.origin }

// Fill tops the pool up to origin.TargetConnCount by dialing new
// connections for the deficit. Must run on the dispatcher goroutine.
func (p *Pool) Fill() {
	p.mu.Lock()
	deficit := p.origin.TargetConnCount - len(p.idle) - len(p.active) - p.downInRetry
	p.mu.Unlock()
	for i := 0; i < deficit; i++ {
		p.spawn()
	}
}

func (p *Pool) spawn() {
	c := &Connection{origin: p.origin, state: domain.PoolDisconnected}
	c.transitionTo(domain.PoolConnecting)
	go p.dialAndRegister(c)
}

// dialAndRegister performs the blocking dial off the dispatcher goroutine,
// then posts the result back onto it so state transitions stay
// single-threaded per §4.1.
func (p *Pool) dialAndRegister(c *Connection) {
	start := time.Now()
	conn, err := dialFunc("tcp", c.origin.Address(), dialTimeout(c.origin))
	p.disp.Post(func() {
		if err != nil {
			p.onConnectFailed(c)
			return
		}
		c.handle = iohandle.New(conn)
		if c.origin.TLS != nil {
			c.socket = transport.NewTLSSocket(c.origin.TLS, nil)
		} else {
			c.socket = transport.NewTCPSocket()
		}
		_ = c.socket.Connect(c.handle)
		c.recordRTT(time.Since(start))
		if !c.transitionTo(domain.PoolIdle) {
			p.onConnectFailed(c)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	})
}

func dialTimeout(o *domain.Origin) time.Duration {
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return 10 * time.Second
}

func (p *Pool) onConnectFailed(c *Connection) {
	c.markDown(nil)
	p.mu.Lock()
	p.downInRetry++
	p.mu.Unlock()
	p.scheduleRetry(c)
}

func (p *Pool) scheduleRetry(c *Connection) {
	backoff := util.CalculateConnectionRetryBackoff(c.consecutiveFails)
	if c.origin.RetryInterval > 0 && backoff < c.origin.RetryInterval {
		backoff = c.origin.RetryInterval
	}
	if c.retryTimer == nil {
		c.retryTimer = p.disp.NewTimer(func() { p.retry(c) })
	}
	c.retryTimer.Reset(backoff)
}

func (p *Pool) retry(c *Connection) {
	p.mu.Lock()
	p.downInRetry--
	p.mu.Unlock()
	if !c.transitionTo(domain.PoolConnecting) {
		return
	}
	go p.dialAndRegister(c)
}

// Acquire removes the least-recently-used idle connection and marks it
// active, for a balancer that selected this origin. Returns nil if the pool
// currently has no idle connection (caller should queue the request).
func (p *Pool) Acquire() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	c := p.idle[0]
	p.idle = p.idle[1:]
	if !c.transitionTo(domain.PoolActive) {
		return nil
	}
	p.active[c] = struct{}{}
	return c
}

// Release returns an active connection to idle (on success) or tears it
// down and schedules a reconnect (on failure).
func (p *Pool) Release(c *Connection, rtt time.Duration, failed bool) {
	p.mu.Lock()
	delete(p.active, c)
	p.mu.Unlock()

	if failed {
		p.onConnectFailed(c)
		return
	}
	c.recordRTT(rtt)
	if !c.transitionTo(domain.PoolIdle) {
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// IdleSnapshot returns a copy of the current idle list for balancer
// selection. The balancer never mutates pool state directly; it calls
// Acquire once it has chosen one.
func (p *Pool) IdleSnapshot() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, len(p.idle))
	copy(out, p.idle)
	return out
}

// Counts reports the current (active, idle, downInRetry) tuple; their sum
// must equal origin.TargetConnCount once Fill has converged.
func (p *Pool) Counts() (active, idle, down int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active), len(p.idle), p.downInRetry
}

// Status derives the logging-facing OriginStatus from the current counts.
func (p *Pool) Status() domain.OriginStatus {
	active, idle, down := p.Counts()
	total := active + idle + down
	if total == 0 {
		return domain.OriginStatusUnknown
	}
	if down == total {
		return domain.OriginStatusDown
	}
	if down > 0 {
		return domain.OriginStatusDegraded
	}
	return domain.OriginStatusHealthy
}
