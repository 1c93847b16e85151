package balancer

import (
	"math/rand"
	"sync/atomic"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
)

// RTTBalancer picks the pool holding the idle connection with the lowest
// smoothed RTT (spec.md §4.6, default method), then leases that pool's
// oldest idle connection via Acquire, which need not be the one measured.
// Ties, including the RTT==0 case before any sample has been taken, resolve
// to the first candidate in config order (Open Question decision, see
// DESIGN.md).
type RTTBalancer struct{}

func (RTTBalancer) Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error) {
	candidates := selectableIdle(pools)
	if len(candidates) == 0 {
		if len(pools) == 0 {
			return nil, nil, &domain.ErrNoHealthyUpstream{}
		}
		return nil, nil, nil
	}
	var bestPool *pool.Pool
	var bestConn *pool.Connection
	for _, p := range candidates {
		for _, c := range p.IdleSnapshot() {
			if bestConn == nil || c.RTT() < bestConn.RTT() {
				bestConn, bestPool = c, p
			}
		}
	}
	acquired := bestPool.Acquire()
	if acquired == nil {
		return nil, nil, nil
	}
	return acquired, bestPool, nil
}

// RoundRobinBalancer cycles through pools in config order.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error) {
	candidates := selectableIdle(pools)
	if len(candidates) == 0 {
		if len(pools) == 0 {
			return nil, nil, &domain.ErrNoHealthyUpstream{}
		}
		return nil, nil, nil
	}
	idx := b.counter.Add(1) % uint64(len(candidates))
	p := candidates[idx]
	c := p.Acquire()
	if c == nil {
		return nil, nil, nil
	}
	return c, p, nil
}

// RandomBalancer picks a uniformly random idle candidate.
type RandomBalancer struct{}

func (RandomBalancer) Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error) {
	candidates := selectableIdle(pools)
	if len(candidates) == 0 {
		if len(pools) == 0 {
			return nil, nil, &domain.ErrNoHealthyUpstream{}
		}
		return nil, nil, nil
	}
	p := candidates[rand.Intn(len(candidates))]
	c := p.Acquire()
	if c == nil {
		return nil, nil, nil
	}
	return c, p, nil
}

// MostIdleBalancer picks the pool with the largest idle count.
type MostIdleBalancer struct{}

func (MostIdleBalancer) Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error) {
	candidates := selectableIdle(pools)
	if len(candidates) == 0 {
		if len(pools) == 0 {
			return nil, nil, &domain.ErrNoHealthyUpstream{}
		}
		return nil, nil, nil
	}
	var bestPool *pool.Pool
	bestIdle := -1
	for _, p := range candidates {
		if n := len(p.IdleSnapshot()); n > bestIdle {
			bestIdle, bestPool = n, p
		}
	}
	c := bestPool.Acquire()
	if c == nil {
		return nil, nil, nil
	}
	return c, bestPool, nil
}

// NoneBalancer always uses the first configured pool, failing over to
// nothing else; useful for single-upstream rules.
type NoneBalancer struct{}

func (NoneBalancer) Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error) {
	if len(pools) == 0 {
		return nil, nil, &domain.ErrNoHealthyUpstream{}
	}
	c := pools[0].Acquire()
	if c == nil {
		return nil, nil, nil
	}
	return c, pools[0], nil
}
