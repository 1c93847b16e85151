package listener

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
)

func TestRoundRobinDispatchAcrossWorkers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	const numWorkers = 3
	var mu sync.Mutex
	counts := make([]int, numWorkers)
	var workers []WorkerTarget
	var disps []*dispatcher.Dispatcher
	for i := 0; i < numWorkers; i++ {
		i := i
		d := dispatcher.New()
		go d.Run()
		defer d.Stop()
		disps = append(disps, d)
		workers = append(workers, WorkerTarget{
			Dispatcher: d,
			OnAccept: func(conn net.Conn) {
				mu.Lock()
				counts[i]++
				mu.Unlock()
				conn.Close()
			},
		})
	}

	l := New(ln, workers, nil)
	go l.Serve()
	defer l.Stop()

	const numConns = 9
	for i := 0; i < numConns; i++ {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		c.Close()
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		total := counts[0] + counts[1] + counts[2]
		mu.Unlock()
		if total == numConns {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected %d accepted connections, got %v", numConns, counts)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range counts {
		if c != 3 {
			t.Errorf("expected worker %d to get exactly 3 connections via round robin, got %d (%v)", i, c, counts)
		}
	}
}

func TestAdmitRejectsBeforeDispatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	var accepted int
	var mu sync.Mutex
	workers := []WorkerTarget{{Dispatcher: d, OnAccept: func(conn net.Conn) {
		mu.Lock()
		accepted++
		mu.Unlock()
		conn.Close()
	}}}

	l := New(ln, workers, func(pendingCount, maxPending int) bool { return false })
	go l.Serve()
	defer l.Stop()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if accepted != 0 {
		t.Fatalf("expected admit=false to prevent dispatch, got %d accepted", accepted)
	}
}

func TestAdmitSeesTargetWorkerPendingCount(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	workers := []WorkerTarget{{
		Dispatcher:   d,
		OnAccept:     func(conn net.Conn) { conn.Close() },
		PendingCount: func() int { return 5 },
		MaxPending:   5,
	}}

	var seenPending, seenMax int
	l := New(ln, workers, func(pendingCount, maxPending int) bool {
		seenPending, seenMax = pendingCount, maxPending
		return true
	})
	go l.Serve()
	defer l.Stop()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	if seenPending != 5 || seenMax != 5 {
		t.Fatalf("expected Admit to observe the target worker's own pending_count/max_pending (5/5), got %d/%d", seenPending, seenMax)
	}
}
