package pending

import (
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
)

func TestEnqueueRejectsOverCapacity(t *testing.T) {
	d := dispatcher.New()
	q := New(d, 1, 0)

	if err := q.Enqueue(&Entry{OnReady: func() {}}); err != nil {
		t.Fatalf("first enqueue should succeed, got %v", err)
	}
	err := q.Enqueue(&Entry{OnReady: func() {}})
	if err == nil {
		t.Fatal("expected ErrPendingQueueFull on the second enqueue")
	}
	if _, ok := err.(*domain.ErrPendingQueueFull); !ok {
		t.Fatalf("expected *domain.ErrPendingQueueFull, got %T", err)
	}
}

func TestDispatchIsFIFO(t *testing.T) {
	d := dispatcher.New()
	q := New(d, 0, 0)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_ = q.Enqueue(&Entry{OnReady: func() { order = append(order, i) }})
	}
	for q.Dispatch() {
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected FIFO order [0 1 2], got %v", order)
	}
}

func TestPendingTimeoutFires(t *testing.T) {
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	q := New(d, 0, 20*time.Millisecond)
	done := make(chan error, 1)
	d.Post(func() {
		_ = q.Enqueue(&Entry{
			RuleMatch: "/api",
			OnReady:   func() {},
			OnTimeout: func(err error) { done <- err },
		})
	})

	select {
	case err := <-done:
		if _, ok := err.(*domain.ErrPendingTimeout); !ok {
			t.Fatalf("expected *domain.ErrPendingTimeout, got %T", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending entry never timed out")
	}
}

func TestAtomicLenMirrorsLen(t *testing.T) {
	d := dispatcher.New()
	q := New(d, 0, 0)

	if q.MaxPending() != 0 {
		t.Fatalf("expected MaxPending 0, got %d", q.MaxPending())
	}
	if q.AtomicLen() != 0 {
		t.Fatalf("expected AtomicLen 0 on an empty queue, got %d", q.AtomicLen())
	}

	e := &Entry{OnReady: func() {}}
	_ = q.Enqueue(e)
	if got := q.AtomicLen(); got != q.Len() || got != 1 {
		t.Fatalf("expected AtomicLen to mirror Len() == 1, got AtomicLen=%d Len=%d", got, q.Len())
	}

	q.Cancel(e)
	if got := q.AtomicLen(); got != q.Len() || got != 0 {
		t.Fatalf("expected AtomicLen to mirror Len() == 0 after cancel, got AtomicLen=%d Len=%d", got, q.Len())
	}
}

func TestCancelPreventsLateTimeout(t *testing.T) {
	d := dispatcher.New()
	go d.Run()
	defer d.Stop()

	q := New(d, 0, 15*time.Millisecond)
	fired := make(chan struct{}, 1)
	var e *Entry
	e = &Entry{OnReady: func() {}, OnTimeout: func(err error) { fired <- struct{}{} }}
	d.Post(func() { _ = q.Enqueue(e) })
	time.Sleep(5 * time.Millisecond)
	d.Post(func() { q.Cancel(e) })

	select {
	case <-fired:
		t.Fatal("canceled entry must not time out")
	case <-time.After(40 * time.Millisecond):
	}
}
