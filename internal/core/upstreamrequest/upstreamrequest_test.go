package upstreamrequest

import (
	"testing"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/streaminfo"
)

func newTestRequest() *UpstreamRequest {
	info := streaminfo.NewStreamInfo(streaminfo.NewFilterState(streaminfo.LifeSpanConnection, nil))
	return New(&domain.Rule{MatchString: "/api"}, &domain.Origin{Name: "a"}, nil, info)
}

func TestHappyPathTransitions(t *testing.T) {
	u := newTestRequest()
	steps := []func() error{u.BeginConnect, u.ConnectComplete, u.HeadersSent, func() error { return u.DataSent(10) }, u.Complete}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
	}
	if u.State() != Complete {
		t.Fatalf("expected Complete, got %s", u.State())
	}
	if !u.Info.Timing.Monotonic() {
		t.Fatal("timing points must stay monotonic (I6)")
	}
}

func TestResetFromAnyNonTerminalState(t *testing.T) {
	u := newTestRequest()
	if err := u.BeginConnect(); err != nil {
		t.Fatal(err)
	}
	if err := u.ResetAttempt(streaminfo.UpstreamConnectionFailure); err != nil {
		t.Fatalf("reset from AwaitingConnect should be legal: %v", err)
	}
	if u.State() != Reset {
		t.Fatalf("expected Reset, got %s", u.State())
	}
	if !u.Info.Flags.Has(streaminfo.UpstreamConnectionFailure) {
		t.Fatal("expected UpstreamConnectionFailure flag to be recorded")
	}
}

func TestResetFromCompleteIsIllegal(t *testing.T) {
	u := newTestRequest()
	_ = u.BeginConnect()
	_ = u.ConnectComplete()
	_ = u.HeadersSent()
	_ = u.Complete()
	if err := u.ResetAttempt(streaminfo.LocalReset); err == nil {
		t.Fatal("expected an error resetting a Complete request")
	}
}

func TestRetryOnlyBeforeFirstResponseByte(t *testing.T) {
	u := newTestRequest()
	_ = u.BeginConnect()
	_ = u.ResetAttempt(streaminfo.UpstreamConnectionTermination)
	if !u.Retry() {
		t.Fatal("expected retry to be allowed before any response byte arrived")
	}

	u2 := newTestRequest()
	_ = u2.BeginConnect()
	_ = u2.ConnectComplete()
	_ = u2.HeadersSent()
	u2.ResponseReceived(4)
	_ = u2.ResetAttempt(streaminfo.UpstreamConnectionTermination)
	if u2.Retry() {
		t.Fatal("expected no retry once a response byte was already forwarded downstream")
	}
}
