package worker

import (
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/router"
)

func TestAcquireFailsFastWithNoRoute(t *testing.T) {
	d := dispatcher.New()
	rtr := router.New(nil)
	w := New(d, rtr, map[string]*pool.Pool{}, 0, 0)

	var gotErr error
	w.Acquire("nope.example.com", "/x", func(*pool.Connection, *pool.Pool) {
		t.Fatal("onReady should not fire with no route")
	}, func(err error) { gotErr = err })

	if _, ok := gotErr.(*domain.ErrNoRouteFound); !ok {
		t.Fatalf("expected *domain.ErrNoRouteFound, got %T (%v)", gotErr, gotErr)
	}
}

func TestAcquireQueuesWhenPoolEmpty(t *testing.T) {
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	rule := &domain.Rule{MatchKind: domain.MatchDefault, UpstreamNames: []string{"a"}, LBMethod: domain.LBRTT}
	vhost := &domain.VHost{Wildcard: true, Rules: []*domain.Rule{rule}}
	rtr := router.New([]*domain.VHost{vhost})

	origin := &domain.Origin{Name: "a", Host: "127.0.0.1", Port: 1, TargetConnCount: 0}
	p := pool.New(origin, d)
	pools := map[string]*pool.Pool{"a": p}

	w := New(d, rtr, pools, 1, 20*time.Millisecond)

	gotErr := make(chan error, 1)
	d.Post(func() {
		w.Acquire("any.host", "/x", func(*pool.Connection, *pool.Pool) {
			t.Error("onReady should not fire: pool never gets a connection in this test")
		}, func(err error) { gotErr <- err })
	})

	select {
	case err := <-gotErr:
		if _, ok := err.(*domain.ErrPendingTimeout); !ok {
			t.Fatalf("expected pending timeout once no connection ever became available, got %T (%v)", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("request never timed out waiting in the pending queue")
	}
}

func TestAcquireRejectsRuleWithNoUpstreams(t *testing.T) {
	d := dispatcher.New()
	rule := &domain.Rule{MatchKind: domain.MatchDefault}
	vhost := &domain.VHost{Wildcard: true, Rules: []*domain.Rule{rule}}
	rtr := router.New([]*domain.VHost{vhost})
	w := New(d, rtr, map[string]*pool.Pool{}, 0, 0)

	var gotErr error
	w.Acquire("any.host", "/x", func(*pool.Connection, *pool.Pool) {
		t.Fatal("onReady should not fire for a rule with no upstreams")
	}, func(err error) { gotErr = err })

	if _, ok := gotErr.(*domain.ErrRuleHasNoUpstreams); !ok {
		t.Fatalf("expected *domain.ErrRuleHasNoUpstreams, got %T", gotErr)
	}
}

// TestPendingQueueSharedAcrossRulesOnOneWorker pins down the §4.6/I5 shape:
// a Worker owns exactly one pending queue, shared by every rule routed to
// it, not one queue per rule. Two rules pointing at distinct, permanently
// empty pools should contend for the same max_pending=1 slot.
func TestPendingQueueSharedAcrossRulesOnOneWorker(t *testing.T) {
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	ruleA := &domain.Rule{MatchKind: domain.MatchExact, MatchString: "/a", UpstreamNames: []string{"a"}, LBMethod: domain.LBRTT}
	ruleB := &domain.Rule{MatchKind: domain.MatchExact, MatchString: "/b", UpstreamNames: []string{"b"}, LBMethod: domain.LBRTT}
	vhost := &domain.VHost{Wildcard: true, Rules: []*domain.Rule{ruleA, ruleB}}
	rtr := router.New([]*domain.VHost{vhost})

	poolA := pool.New(&domain.Origin{Name: "a", Host: "127.0.0.1", Port: 1}, d)
	poolB := pool.New(&domain.Origin{Name: "b", Host: "127.0.0.1", Port: 1}, d)
	pools := map[string]*pool.Pool{"a": poolA, "b": poolB}

	w := New(d, rtr, pools, 1, time.Second)

	d.Post(func() {
		w.Acquire("any.host", "/a", func(*pool.Connection, *pool.Pool) {}, func(error) {})
	})
	time.Sleep(20 * time.Millisecond)

	errCh := make(chan error, 1)
	d.Post(func() {
		w.Acquire("any.host", "/b", func(*pool.Connection, *pool.Pool) {
			errCh <- nil
		}, func(err error) {
			errCh <- err
		})
	})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected the second rule's request to be rejected by the shared queue's max_pending=1 cap, got onReady instead")
		}
	case <-time.After(time.Second):
		t.Fatal("second rule's acquire never resolved")
	}

	if got := w.PendingCount(); got != 1 {
		t.Fatalf("expected PendingCount to reflect the one surviving entry on the shared queue, got %d", got)
	}
}
