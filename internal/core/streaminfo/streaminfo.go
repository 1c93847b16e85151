// Package streaminfo implements the per-request side-table described in
// spec.md §4.7: timing points, response flags, byte counters and the
// three-life-span filter-state tree.
package streaminfo

import (
	"net"
	"time"

	"go.uber.org/atomic"
)

// Timing holds the monotonic timing points from §3/§4.5. I6 requires
// connect_start <= connect_complete <= handshake_complete <= first_tx <=
// last_tx, and first_rx <= last_rx. The Record* methods below do not order
// one point against another: RecordConnectStart and the first-byte points
// keep the first value recorded, connect/handshake complete keep the later
// of the stored and new value, and the last-byte points take whatever time
// is passed. Monotonic reports whether I6 holds.
type Timing struct {
	ConnectStart        time.Time
	ConnectComplete      time.Time
	HandshakeComplete    time.Time
	FirstUpstreamTxByte  time.Time
	LastUpstreamTxByte   time.Time
	FirstUpstreamRxByte  time.Time
	LastUpstreamRxByte   time.Time
}

func (t *Timing) RecordConnectStart(at time.Time) {
	if t.ConnectStart.IsZero() {
		t.ConnectStart = at
	}
}

func (t *Timing) RecordConnectComplete(at time.Time) {
	if t.ConnectComplete.IsZero() || at.After(t.ConnectComplete) {
		t.ConnectComplete = at
	}
}

func (t *Timing) RecordHandshakeComplete(at time.Time) {
	if t.HandshakeComplete.IsZero() || at.After(t.HandshakeComplete) {
		t.HandshakeComplete = at
	}
}

func (t *Timing) RecordTxByte(at time.Time) {
	if t.FirstUpstreamTxByte.IsZero() {
		t.FirstUpstreamTxByte = at
	}
	t.LastUpstreamTxByte = at
}

func (t *Timing) RecordRxByte(at time.Time) {
	if t.FirstUpstreamRxByte.IsZero() {
		t.FirstUpstreamRxByte = at
	}
	t.LastUpstreamRxByte = at
}

// Monotonic checks I6; used by tests and, in debug builds, by callers that
// want to assert the invariant still holds.
func (t *Timing) Monotonic() bool {
	notBefore := func(a, b time.Time) bool {
		if a.IsZero() || b.IsZero() {
			return true
		}
		return !b.Before(a)
	}
	return notBefore(t.ConnectStart, t.ConnectComplete) &&
		notBefore(t.ConnectComplete, t.HandshakeComplete) &&
		notBefore(t.HandshakeComplete, t.FirstUpstreamTxByte) &&
		notBefore(t.FirstUpstreamTxByte, t.LastUpstreamTxByte) &&
		notBefore(t.FirstUpstreamRxByte, t.LastUpstreamRxByte)
}

// UpstreamInfo is filled once a pool connection is leased to the request.
type UpstreamInfo struct {
	LocalAddress  net.Addr
	RemoteAddress net.Addr
	Protocol      string
	TLSInfo       *TLSInfo
	AttemptCount  int
}

type TLSInfo struct {
	Subject     string
	Issuer      string
	SHA1        string
	Cipher      string
	NotBefore   time.Time
	NotAfter    time.Time
	Serial      string
	Certificate []byte
}

// StreamInfo is the per-request side-table of §4.7.
type StreamInfo struct {
	Timing        Timing
	Flags         ResponseFlags
	Upstream      *UpstreamInfo
	BytesSent     atomic.Int64
	BytesReceived atomic.Int64
	ResponseCode  int
	DrainAfter    bool

	chain *FilterState
	req   *FilterState
	conn  *FilterState
}

// NewStreamInfo builds a StreamInfo with its three-level filter-state tree
// rooted at the given connection-lifespan state (shared by every request on
// that connection).
func NewStreamInfo(connState *FilterState) *StreamInfo {
	reqState := NewFilterState(LifeSpanRequest, connState)
	chainState := NewFilterState(LifeSpanFilterChain, reqState)
	return &StreamInfo{
		chain: chainState,
		req:   reqState,
		conn:  connState,
	}
}

func (s *StreamInfo) FilterChainState() *FilterState { return s.chain }
func (s *StreamInfo) RequestState() *FilterState      { return s.req }
func (s *StreamInfo) ConnectionState() *FilterState    { return s.conn }

func (s *StreamInfo) AddBytesSent(n int64)     { s.BytesSent.Add(n) }
func (s *StreamInfo) AddBytesReceived(n int64) { s.BytesReceived.Add(n) }
