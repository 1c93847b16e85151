// Package worker ties one Dispatcher to the Router, the per-Origin pools
// reachable from it, and a PendingQueue, implementing the §4.6 request
// admission path: match a rule, try the balancer, fall back to the pending
// queue on a momentary shortage, and fail with NoHealthyUpstream once the
// rule truly has nothing usable.
package worker

import (
	"time"

	"github.com/ravelproxy/ravel/internal/core/balancer"
	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pending"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/router"
)

// Worker owns one dispatcher goroutine's slice of the proxy: its own
// router snapshot, its own pool per Origin, and a single pending queue
// shared by every rule routed to this worker, per §3/§4.6 ("Pending queue
// (per worker)... Bounded by server.max_pending") and I5 ("the worker's
// pending_count equals the length of its pending queue"). No state here is
// shared across workers, per §5's per-worker isolation.
type Worker struct {
	Dispatcher *dispatcher.Dispatcher
	Router     *router.Router

	balancerFactory *balancer.Factory
	pools           map[string]*pool.Pool // by Origin.Name
	pendingQueue    *pending.Queue
}

func New(disp *dispatcher.Dispatcher, rtr *router.Router, pools map[string]*pool.Pool, maxPending int, pendingTimeout time.Duration) *Worker {
	return &Worker{
		Dispatcher:      disp,
		Router:          rtr,
		balancerFactory: balancer.NewFactory(),
		pools:           pools,
		pendingQueue:    pending.New(disp, maxPending, pendingTimeout),
	}
}

// PendingCount reports the worker's current pending_count (I5), safe to
// call from the listener's pre-accept Admit hook on the accept goroutine.
func (w *Worker) PendingCount() int { return w.pendingQueue.AtomicLen() }

// MaxPending returns the worker's configured admission cap.
func (w *Worker) MaxPending() int { return w.pendingQueue.MaxPending() }

// Acquire resolves host/path to a rule and attempts to lease an idle pool
// connection immediately. If every matching origin is merely busy, onReady
// is queued on the worker's shared pending queue instead of failing the
// request. Must run on w.Dispatcher's own goroutine.
func (w *Worker) Acquire(host, path string, onReady func(*pool.Connection, *pool.Pool), onFail func(error)) {
	_, rule, err := w.Router.Match(host, path)
	if err != nil {
		onFail(err)
		return
	}
	if !rule.HasUpstreams() {
		onFail(&domain.ErrRuleHasNoUpstreams{MatchString: rule.MatchString})
		return
	}

	pools := w.rulePools(rule)
	lb := w.balancerFactory.Create(rule.LBMethod)
	conn, p, err := lb.Select(pools)
	if err != nil {
		onFail(err)
		return
	}
	if conn != nil {
		onReady(conn, p)
		return
	}

	entry := &pending.Entry{
		RuleMatch: rule.MatchString,
		OnReady: func() {
			conn, p, err := lb.Select(pools)
			if err != nil || conn == nil {
				onFail(&domain.ErrNoHealthyUpstream{RuleMatch: rule.MatchString})
				return
			}
			onReady(conn, p)
		},
		OnTimeout: onFail,
	}
	if err := w.pendingQueue.Enqueue(entry); err != nil {
		onFail(err)
	}
}

// Release returns a leased connection to its pool and wakes the oldest
// pending request, since any rule sharing this origin may now have an
// idle connection to offer.
func (w *Worker) Release(p *pool.Pool, c *pool.Connection, rtt time.Duration, failed bool) {
	p.Release(c, rtt, failed)
	w.pendingQueue.Dispatch()
}

func (w *Worker) rulePools(rule *domain.Rule) []*pool.Pool {
	out := make([]*pool.Pool, 0, len(rule.UpstreamNames))
	for _, name := range rule.UpstreamNames {
		if p, ok := w.pools[name]; ok {
			out = append(out, p)
		}
	}
	return out
}
