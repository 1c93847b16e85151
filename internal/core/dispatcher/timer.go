package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer fires once after a duration on the dispatcher's thread; cancelable
// and re-armable (§4.1 item 1).
type Timer struct {
	d        *Dispatcher
	cb       func()
	mu       sync.Mutex
	timer    *time.Timer
	canceled atomic.Bool
}

// NewTimer creates a Timer bound to this dispatcher. It is not armed until
// Reset is called.
func (d *Dispatcher) NewTimer(cb func()) *Timer {
	return &Timer{d: d, cb: cb}
}

// Reset (re-)arms the timer to fire after d. Any previous pending fire is
// canceled.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.canceled.Store(false)
	t.timer = time.AfterFunc(d, t.onFire)
}

// Stop cancels a pending fire; guarantees the callback will not run if it
// hasn't already been handed to the dispatcher.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Timer) onFire() {
	if t.canceled.Load() {
		return
	}
	disp := t.d
	disp.timerMu.Lock()
	disp.timerFired = append(disp.timerFired, func() {
		if !t.canceled.Load() {
			t.cb()
		}
	})
	disp.timerMu.Unlock()
	disp.signalWake()
}
