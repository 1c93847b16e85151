package balancer

import (
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
)

func idlePool(t *testing.T, name string, rtts ...time.Duration) *pool.Pool {
	t.Helper()
	origin := &domain.Origin{Name: name, Host: "127.0.0.1", Port: 1, TargetConnCount: len(rtts)}
	p := pool.New(origin, nil)
	for range rtts {
		// Fill would normally dial; tests exercise Select against a pool
		// with no idle connections, which is the "admit to pending" path.
		_ = p
	}
	return p
}

func TestFactoryCreateDefaultsToRTT(t *testing.T) {
	f := NewFactory()
	b := f.Create(domain.LBMethod("unknown-method"))
	if _, ok := b.(*RTTBalancer); !ok {
		t.Fatalf("expected Factory to default unknown methods to RTTBalancer, got %T", b)
	}
	if _, ok := f.Create(domain.LBRoundRobin).(*RoundRobinBalancer); !ok {
		t.Fatal("expected roundrobin registration to resolve to RoundRobinBalancer")
	}
}

func TestSelectOnEmptyPoolsReturnsNilNotError(t *testing.T) {
	p := idlePool(t, "a")
	b := &RTTBalancer{}
	conn, selected, err := b.Select([]*pool.Pool{p})
	if err != nil {
		t.Fatalf("expected nil error when a pool exists but has no idle connections, got %v", err)
	}
	if conn != nil || selected != nil {
		t.Fatal("expected no selection when every pool is empty of idle connections")
	}
}

func TestSelectOnNoPoolsReturnsNoHealthyUpstream(t *testing.T) {
	b := &RTTBalancer{}
	_, _, err := b.Select(nil)
	if err == nil {
		t.Fatal("expected ErrNoHealthyUpstream when the rule has no pools at all")
	}
	if _, ok := err.(*domain.ErrNoHealthyUpstream); !ok {
		t.Fatalf("expected *domain.ErrNoHealthyUpstream, got %T", err)
	}
}
