// Package upstreamrequest implements the §4.5 per-attempt state machine that
// bridges a matched Rule's chosen pool connection to the downstream
// connection's filter chain, recording StreamInfo timing as it goes.
package upstreamrequest

import (
	"fmt"
	"time"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/streaminfo"
)

// State is the §4.5 upstream request lifecycle.
type State int

const (
	Initialized State = iota
	AwaitingConnect
	PendingHeaders
	HeadersSent
	BodyStreaming
	Complete
	Reset
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case AwaitingConnect:
		return "awaiting_connect"
	case PendingHeaders:
		return "pending_headers"
	case HeadersSent:
		return "headers_sent"
	case BodyStreaming:
		return "body_streaming"
	case Complete:
		return "complete"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// legal holds the §4.5 transition table; any transition not listed is
// rejected by advance.
var legal = map[State][]State{
	Initialized:     {AwaitingConnect, Reset},
	AwaitingConnect: {PendingHeaders, Reset},
	PendingHeaders:  {HeadersSent, Reset},
	HeadersSent:     {BodyStreaming, Complete, Reset},
	BodyStreaming:   {Complete, Reset},
}

func canTransition(from, to State) bool {
	if to == Reset {
		return from != Complete && from != Reset
	}
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpstreamRequest tracks one attempt at forwarding a request to an Origin
// over a pool connection already acquired by the balancer.
type UpstreamRequest struct {
	Rule   *domain.Rule
	Origin *domain.Origin
	Conn   *pool.Connection
	Info   *streaminfo.StreamInfo
	Flags  domain.RequestFlags

	state      State
	attemptNum int
}

func New(rule *domain.Rule, origin *domain.Origin, conn *pool.Connection, info *streaminfo.StreamInfo) *UpstreamRequest {
	info.Upstream = &streaminfo.UpstreamInfo{AttemptCount: 1}
	return &UpstreamRequest{Rule: rule, Origin: origin, Conn: conn, Info: info, state: Initialized, attemptNum: 1}
}

func (u *UpstreamRequest) State() State { return u.state }

func (u *UpstreamRequest) advance(to State) error {
	if !canTransition(u.state, to) {
		return fmt.Errorf("upstream request: illegal transition %s -> %s", u.state, to)
	}
	u.state = to
	return nil
}

// BeginConnect records the connect-start timing point and moves to
// AwaitingConnect. Since pool connections are pre-established, this is
// normally instantaneous, but the timing point still exists for attempts
// against a freshly dialed connection.
func (u *UpstreamRequest) BeginConnect() error {
	if err := u.advance(AwaitingConnect); err != nil {
		return err
	}
	u.Info.Timing.RecordConnectStart(time.Now())
	return nil
}

// ConnectComplete records the connect-complete and handshake-complete
// timing points at the same instant, for plain TCP and TLS alike, and moves
// to PendingHeaders.
func (u *UpstreamRequest) ConnectComplete() error {
	if err := u.advance(PendingHeaders); err != nil {
		return err
	}
	now := time.Now()
	u.Info.Timing.RecordConnectComplete(now)
	u.Info.Timing.RecordHandshakeComplete(now)
	return nil
}

// HeadersSent records the first/last upstream tx byte timing points for the
// header block and moves to HeadersSent.
func (u *UpstreamRequest) HeadersSent() error {
	if err := u.advance(HeadersSent); err != nil {
		return err
	}
	u.Info.Timing.RecordTxByte(time.Now())
	return nil
}

// DataSent records a body chunk write and moves to BodyStreaming on first
// call; subsequent calls stay in BodyStreaming.
func (u *UpstreamRequest) DataSent(n int) error {
	if u.state == HeadersSent {
		if err := u.advance(BodyStreaming); err != nil {
			return err
		}
	} else if u.state != BodyStreaming {
		return fmt.Errorf("upstream request: DataSent in state %s", u.state)
	}
	u.Info.Timing.RecordTxByte(time.Now())
	u.Info.AddBytesSent(int64(n))
	return nil
}

// NoteHighWatermark records that the downstream (client-facing) connection's
// outbound buffer crossed its high watermark during this request.
func (u *UpstreamRequest) NoteHighWatermark() { u.Flags.HitHighWM = true }

// NoteUpstreamHighWatermark records that the origin-facing connection's
// outbound buffer crossed its high watermark during this request.
func (u *UpstreamRequest) NoteUpstreamHighWatermark() { u.Flags.HitUpstreamHighWM = true }

// ResponseReceived records the first/last upstream rx byte timing points.
func (u *UpstreamRequest) ResponseReceived(n int) {
	u.Info.Timing.RecordRxByte(time.Now())
	u.Info.AddBytesReceived(int64(n))
}

// Complete finalizes the attempt.
func (u *UpstreamRequest) Complete() error {
	return u.advance(Complete)
}

// ResetAttempt marks the attempt as reset (connection died, timed out, or
// the downstream aborted) from any non-terminal state.
func (u *UpstreamRequest) ResetAttempt(flag streaminfo.ResponseFlags) error {
	if err := u.advance(Reset); err != nil {
		return err
	}
	u.Info.Flags.Set(flag)
	return nil
}

// Retry reports whether a reset attempt is eligible for another try against
// a different connection: only once, and only before any response byte has
// been forwarded downstream (decided in SPEC_FULL.md's Open Question #1 — a
// freshly established connection that dies mid-stream is not retried).
func (u *UpstreamRequest) Retry() bool {
	return u.state == Reset && u.attemptNum == 1 && u.Info.Timing.FirstUpstreamRxByte.IsZero()
}
