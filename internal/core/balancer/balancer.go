// Package balancer implements the §4.6 load balancing methods: rtt (default),
// roundrobin, random, most-idle and none. Grounded on the teacher's
// Factory.Register/Factory.Create pattern (internal/adapter/balancer, now
// removed) which is reproduced here against the new pool.Pool/domain types.
package balancer

import (
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
)

// Balancer selects one idle connection from one of the given pools. A nil
// return with a nil error means every pool is empty (caller should admit
// the request to the pending queue); a non-nil error
// (domain.ErrNoHealthyUpstream) is returned only when the set holds no
// pools at all. Pools whose connections are all down give the nil, nil
// result like any other pool with nothing idle.
type Balancer interface {
	Select(pools []*pool.Pool) (*pool.Connection, *pool.Pool, error)
}

// Factory builds a Balancer for a domain.LBMethod. NewFactory registers the
// built-in methods via Register, the same idiom the teacher used for its
// balancer factory.
type Factory struct {
	builders map[domain.LBMethod]func() Balancer
}

func NewFactory() *Factory {
	f := &Factory{builders: make(map[domain.LBMethod]func() Balancer)}
	f.Register(domain.LBRTT, func() Balancer { return &RTTBalancer{} })
	f.Register(domain.LBRoundRobin, func() Balancer { return &RoundRobinBalancer{} })
	f.Register(domain.LBRandom, func() Balancer { return &RandomBalancer{} })
	f.Register(domain.LBMostIdle, func() Balancer { return &MostIdleBalancer{} })
	f.Register(domain.LBNone, func() Balancer { return &NoneBalancer{} })
	return f
}

func (f *Factory) Register(method domain.LBMethod, builder func() Balancer) {
	f.builders[method] = builder
}

func (f *Factory) Create(method domain.LBMethod) Balancer {
	if b, ok := f.builders[method]; ok {
		return b()
	}
	return &RTTBalancer{}
}

func selectableIdle(pools []*pool.Pool) []*pool.Pool {
	out := make([]*pool.Pool, 0, len(pools))
	for _, p := range pools {
		if len(p.IdleSnapshot()) > 0 {
			out = append(out, p)
		}
	}
	return out
}
