package pool

import (
	"net"
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
)

func fakeDial(network, addr string, timeout time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	return client, nil
}

func TestPoolFillReachesTargetCount(t *testing.T) {
	dialFunc = fakeDial
	defer func() { dialFunc = func(n, a string, t time.Duration) (net.Conn, error) { return net.DialTimeout(n, a, t) } }()

	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	origin := &domain.Origin{Name: "a", Host: "127.0.0.1", Port: 1, TargetConnCount: 3}
	p := New(origin, d)

	done := make(chan struct{})
	d.Post(func() {
		p.Fill()
		done <- struct{}{}
	})
	<-done

	deadline := time.After(time.Second)
	for {
		active, idle, down := p.Counts()
		if active+idle+down == 3 && idle == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pool did not converge: active=%d idle=%d down=%d", active, idle, down)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dialFunc = fakeDial
	defer func() { dialFunc = func(n, a string, t time.Duration) (net.Conn, error) { return net.DialTimeout(n, a, t) } }()

	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	origin := &domain.Origin{Name: "a", Host: "127.0.0.1", Port: 1, TargetConnCount: 1}
	p := New(origin, d)

	d.Post(p.Fill)
	deadline := time.After(time.Second)
	for {
		if _, idle, _ := p.Counts(); idle == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("connection never became idle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conns := p.IdleSnapshot()
	if len(conns) != 1 {
		t.Fatalf("expected 1 idle connection, got %d", len(conns))
	}

	c := p.Acquire()
	if c == nil {
		t.Fatal("Acquire returned nil with an idle connection available")
	}
	if c.State() != domain.PoolActive {
		t.Fatalf("expected PoolActive after Acquire, got %s", c.State())
	}
	if got := p.Acquire(); got != nil {
		t.Fatal("second Acquire should return nil, pool had only 1 connection")
	}

	p.Release(c, 10*time.Millisecond, false)
	if c.State() != domain.PoolIdle {
		t.Fatalf("expected PoolIdle after successful Release, got %s", c.State())
	}
	if c.RTT() != 10*time.Millisecond {
		t.Fatalf("expected first RTT sample to be taken as-is, got %v", c.RTT())
	}
}

func TestTransitionTableRejectsIllegalMoves(t *testing.T) {
	c := &Connection{state: domain.PoolIdle}
	if c.transitionTo(domain.PoolDisconnected) {
		t.Fatal("Idle -> Disconnected should be illegal")
	}
	if c.state != domain.PoolIdle {
		t.Fatal("illegal transition must not mutate state")
	}
}
