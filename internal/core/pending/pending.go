// Package pending implements the §4.6 pending-request queue: a per-worker
// FIFO of requests waiting for an idle pool connection, with an admission
// cap (max_pending) and a per-request timeout. Grounded on the teacher's
// worker-pool queuing idiom (internal/adapter/health/worker_pool.go) and
// internal/core/dispatcher's Timer for the per-entry deadline.
package pending

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
)

// Entry is one queued request awaiting an upstream connection.
type Entry struct {
	RuleMatch string
	OnReady   func()
	OnTimeout func(err error)

	timer *dispatcher.Timer
	elem  *list.Element
}

// Queue is a single worker's FIFO of pending entries, bounded by MaxPending.
type Queue struct {
	disp       *dispatcher.Dispatcher
	maxPending int
	timeout    time.Duration

	items *list.List
	count atomic.Int64 // mirrors items.Len(), readable off the dispatcher goroutine
}

func New(disp *dispatcher.Dispatcher, maxPending int, timeout time.Duration) *Queue {
	return &Queue{disp: disp, maxPending: maxPending, timeout: timeout, items: list.New()}
}

// Len reports the number currently queued. Must run on the dispatcher
// goroutine.
func (q *Queue) Len() int { return q.items.Len() }

// AtomicLen reports the number currently queued and is safe to call from
// any goroutine, including the listener's pre-accept Admit hook (§4.3),
// which runs ahead of the worker's own dispatcher goroutine.
func (q *Queue) AtomicLen() int { return int(q.count.Load()) }

// MaxPending returns the queue's configured admission cap.
func (q *Queue) MaxPending() int { return q.maxPending }

// Enqueue admits an entry if the queue has room; otherwise returns
// ErrPendingQueueFull and the entry is never queued (§5 backpressure).
// Must run on the dispatcher goroutine.
func (q *Queue) Enqueue(e *Entry) error {
	if q.maxPending > 0 && q.items.Len() >= q.maxPending {
		return &domain.ErrPendingQueueFull{MaxPending: q.maxPending}
	}
	e.elem = q.items.PushBack(e)
	q.count.Add(1)
	if q.timeout > 0 {
		e.timer = q.disp.NewTimer(func() { q.expire(e) })
		e.timer.Reset(q.timeout)
	}
	return nil
}

// Dispatch pops the oldest entry and invokes its OnReady callback, intended
// to be called once a pool has an idle connection available. Returns false
// if the queue was empty.
func (q *Queue) Dispatch() bool {
	front := q.items.Front()
	if front == nil {
		return false
	}
	e := front.Value.(*Entry)
	q.remove(e)
	e.OnReady()
	return true
}

func (q *Queue) expire(e *Entry) {
	if e.elem == nil {
		return // already dispatched or removed
	}
	q.remove(e)
	e.OnTimeout(&domain.ErrPendingTimeout{RuleMatch: e.RuleMatch})
}

func (q *Queue) remove(e *Entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.elem != nil {
		q.items.Remove(e.elem)
		e.elem = nil
		q.count.Add(-1)
	}
}

// Cancel removes an entry before it fires or expires, e.g. because the
// downstream connection closed while waiting. No-op if already resolved.
func (q *Queue) Cancel(e *Entry) {
	q.remove(e)
}
