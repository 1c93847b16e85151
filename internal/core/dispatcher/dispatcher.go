// Package dispatcher implements the per-worker event loop of spec.md §4.1:
// fd-ready callbacks, timers, and same-iteration work (posts, deferred
// delete/destroy, schedulables) in the exact order the filter chain relies
// on. One Dispatcher owns exactly one goroutine (the "dispatcher thread");
// every other primitive in this package is only safe to call from that
// goroutine except Post, which is the one cross-thread entry point.
package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher is a worker-local event loop. Create one per worker with New
// and call Run on the worker's own goroutine.
type Dispatcher struct {
	fdReady chan func()
	wake    chan struct{}
	stopCh  chan struct{}
	stopped atomic.Bool

	postMu    sync.Mutex
	postQueue []func()

	timerMu     sync.Mutex
	timerFired  []func()
	timerWakeCh chan struct{}

	// double-buffered deferred delete/destroy: index into the pair currently
	// accepting new entries. Swapped the moment drain begins so callbacks
	// invoked during drain re-enqueue into the other buffer, per §4.1.
	deferMu         sync.Mutex
	deleteBufs      [2][]func()
	destroyBufs     [2][]func()
	activeBuf       int
	draining        bool // reentrancy guard: deferred_deleting/deferred_destroying

	schedMu    sync.Mutex
	currentIt  []*scheduled // run before the loop resumes polling
	nextIt     []*scheduled // run after a full poll cycle
}

type scheduled struct {
	cb       func()
	canceled atomic.Bool
	pending  atomic.Bool // set when queued, cleared as the callback starts; schedule does not consult it
}

// Schedulable is a handle to a callback registered with ScheduleCurrent or
// ScheduleNext. Destroying it before it fires guarantees it will not run.
type Schedulable struct {
	s *scheduled
}

func (h Schedulable) Cancel() {
	if h.s != nil {
		h.s.canceled.Store(true)
	}
}

func New() *Dispatcher {
	return &Dispatcher{
		fdReady:     make(chan func(), 256),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		timerWakeCh: make(chan struct{}, 1),
	}
}

// Post enqueues cb to run on this dispatcher's thread during its next
// iteration. Safe to call from any goroutine; takes a mutex on the post
// list only (§5).
func (d *Dispatcher) Post(cb func()) {
	if d.stopped.Load() {
		return
	}
	d.postMu.Lock()
	d.postQueue = append(d.postQueue, cb)
	d.postMu.Unlock()
	d.signalWake()
}

// emitFdReady is called by IO handles registered with this dispatcher when
// the underlying fd becomes readable/writable.
func (d *Dispatcher) emitFdReady(cb func()) {
	select {
	case d.fdReady <- cb:
	case <-d.stopCh:
	}
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// ScheduleCurrent registers cb to run before the loop resumes polling
// (the "current iteration" semantics of §4.1 item 2). Each call queues a new
// entry: scheduling the same function twice before it runs makes it run
// twice.
func (d *Dispatcher) ScheduleCurrent(cb func()) Schedulable {
	return d.schedule(cb, true)
}

// ScheduleNext registers cb to run after a full poll cycle.
func (d *Dispatcher) ScheduleNext(cb func()) Schedulable {
	return d.schedule(cb, false)
}

func (d *Dispatcher) schedule(cb func(), current bool) Schedulable {
	s := &scheduled{cb: cb}
	s.pending.Store(true)
	d.schedMu.Lock()
	if current {
		d.currentIt = append(d.currentIt, s)
	} else {
		d.nextIt = append(d.nextIt, s)
	}
	d.schedMu.Unlock()
	d.signalWake()
	return Schedulable{s: s}
}

// DeferDelete transfers ownership of an object to the dispatcher; destroy is
// invoked in a batch at the end of the current iteration, guaranteeing no
// destructor runs while the object's own callbacks are still on the stack.
func (d *Dispatcher) DeferDelete(destroy func()) {
	d.deferMu.Lock()
	buf := d.activeBuf
	d.deleteBufs[buf] = append(d.deleteBufs[buf], destroy)
	d.deferMu.Unlock()
	d.signalWake()
}

// DeferDestroy is like DeferDelete but named separately per §4.1 item 4
// (raw pointer + destructor function in the source; here it's simply a
// second batch so the two kinds drain as distinct groups).
func (d *Dispatcher) DeferDestroy(destroy func()) {
	d.deferMu.Lock()
	buf := d.activeBuf
	d.destroyBufs[buf] = append(d.destroyBufs[buf], destroy)
	d.deferMu.Unlock()
	d.signalWake()
}

// Run drives the event loop until Stop is called. Intended to be the whole
// body of the worker's goroutine.
func (d *Dispatcher) Run() {
	for {
		select {
		case <-d.stopCh:
			return
		case cb := <-d.fdReady:
			d.runIteration(cb)
		case <-d.wake:
			d.runIteration(nil)
		case <-time.After(50 * time.Millisecond):
			// idle tick: lets Timer callbacks posted via time.AfterFunc (which
			// land on timerFired) get drained even with no fd/post activity.
			d.runIteration(nil)
		}
	}
}

// runIteration executes exactly one loop iteration per §4.1's ordering:
// (a) the fd callback that woke us (if any) plus any other fd callbacks
// already ready, (b) expired timers, (c) same-iteration work: posts as a
// group, deferred-deletes as a group, deferred-destroys as a group, then
// each current-iteration schedulable in insertion order.
func (d *Dispatcher) runIteration(first func()) {
	if first != nil {
		first()
	}
	// (a) drain any further fd-ready callbacks without blocking.
	for {
		select {
		case cb := <-d.fdReady:
			cb()
		default:
			goto timers
		}
	}
timers:
	// (b) expired timers, non-deterministic order is fine: we just drain FIFO.
	d.timerMu.Lock()
	fired := d.timerFired
	d.timerFired = nil
	d.timerMu.Unlock()
	for _, cb := range fired {
		cb()
	}

	// (c) same-iteration work.
	d.drainPosts()
	d.drainDeferred()
	d.drainCurrentSchedulables()

	// promote next-iteration schedulables so they run after this full poll
	// cycle (i.e. on the following call to runIteration).
	d.schedMu.Lock()
	d.currentIt = append(d.currentIt, d.nextIt...)
	d.nextIt = nil
	d.schedMu.Unlock()
}

func (d *Dispatcher) drainPosts() {
	d.postMu.Lock()
	posts := d.postQueue
	d.postQueue = nil
	d.postMu.Unlock()
	for _, cb := range posts {
		cb()
	}
}

func (d *Dispatcher) drainDeferred() {
	d.deferMu.Lock()
	if d.draining {
		// re-entrant drain call: never happens since Run is single-goroutine,
		// but guard matches the source's reentrancy flag.
		d.deferMu.Unlock()
		return
	}
	d.draining = true
	drainBuf := d.activeBuf
	d.activeBuf = 1 - d.activeBuf // swap the moment drain begins
	deletes := d.deleteBufs[drainBuf]
	destroys := d.destroyBufs[drainBuf]
	d.deleteBufs[drainBuf] = nil
	d.destroyBufs[drainBuf] = nil
	d.deferMu.Unlock()

	for _, fn := range deletes {
		fn()
	}
	for _, fn := range destroys {
		fn()
	}

	d.deferMu.Lock()
	d.draining = false
	d.deferMu.Unlock()
}

func (d *Dispatcher) drainCurrentSchedulables() {
	d.schedMu.Lock()
	batch := d.currentIt
	d.currentIt = nil
	d.schedMu.Unlock()

	for _, s := range batch {
		if s.canceled.Load() {
			continue
		}
		s.pending.Store(false)
		s.cb()
	}
}

// Stop terminates the loop. Safe to call once.
func (d *Dispatcher) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		close(d.stopCh)
	}
}
