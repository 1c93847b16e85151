package dispatcher

import (
	"testing"
	"time"
)

func TestIterationOrdering(t *testing.T) {
	d := New()
	go d.Run()
	defer d.Stop()

	var order []string
	done := make(chan struct{})

	d.ScheduleCurrent(func() {
		order = append(order, "schedulable")
		close(done)
	})
	d.DeferDestroy(func() { order = append(order, "destroy") })
	d.DeferDelete(func() { order = append(order, "delete") })
	d.Post(func() { order = append(order, "post") })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for schedulable to run")
	}

	if len(order) != 4 {
		t.Fatalf("expected 4 events, got %v", order)
	}
	if order[0] != "post" || order[1] != "delete" || order[2] != "destroy" || order[3] != "schedulable" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestScheduleIsCancelable(t *testing.T) {
	d := New()
	go d.Run()
	defer d.Stop()

	calls := 0
	h := d.ScheduleCurrent(func() { calls++ })
	h.Cancel()

	done := make(chan struct{})
	d.Post(func() { close(done) })
	<-done
	time.Sleep(20 * time.Millisecond)

	if calls != 0 {
		t.Fatalf("expected canceled schedulable not to run, got %d calls", calls)
	}
}

func TestTimerFiresAndCancels(t *testing.T) {
	d := New()
	go d.Run()
	defer d.Stop()

	fired := make(chan struct{})
	tm := d.NewTimer(func() { close(fired) })
	tm.Reset(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	fired2 := make(chan struct{})
	tm2 := d.NewTimer(func() { close(fired2) })
	tm2.Reset(50 * time.Millisecond)
	tm2.Stop()

	select {
	case <-fired2:
		t.Fatal("canceled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
