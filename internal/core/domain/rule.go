package domain

import "time"

// MatchKind is the §4.4 Stage 2 match discipline for a Rule.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchGlob    MatchKind = "glob"
	MatchRegex   MatchKind = "regex"
	MatchDefault MatchKind = "default"
)

func (m MatchKind) Valid() bool {
	switch m {
	case MatchExact, MatchGlob, MatchRegex, MatchDefault:
		return true
	default:
		return false
	}
}

// LBMethod selects which policy the Host/Cluster load balancer uses (§4.6).
type LBMethod string

const (
	LBRTT              LBMethod = "rtt"
	LBRoundRobin       LBMethod = "roundrobin"
	LBRandom           LBMethod = "random"
	LBMostIdle         LBMethod = "most-idle"
	LBNone             LBMethod = "none"
	DefaultLBMethod             = LBRTT
)

// HeaderPolicy is the §4.4 header rewrite policy, attachable at vhost or rule level.
type HeaderPolicy struct {
	XForwardedFor      bool
	XSSLSubject        bool
	XSSLIssuer         bool
	XSSLNotBefore      bool
	XSSLNotAfter       bool
	XSSLSerial         bool
	XSSLSHA1           bool
	XSSLCipher         bool
	XSSLCertificate    bool
	X509Extensions     []X509ExtensionHeader
}

type X509ExtensionHeader struct {
	Name string
	OID  string
}

// Rule is a single entry in a VHost's ordered rule list (§3 Data Model).
type Rule struct {
	MatchKind        MatchKind
	MatchString      string
	LBMethod         LBMethod
	DiscoveryType    string
	UpstreamNames    []string
	Header           HeaderPolicy
	Passthrough      bool
	AllowRedirect    bool
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// ReqLogName/ErrLogName are already fully resolved (rule, else vhost,
	// else server) by config.(*VHost).ToDomainVHost at load time, per the
	// rule->vhost->server logger fallback chain.
	ReqLogName string
	ErrLogName string
}

// EffectiveReadTimeout resolves the per-rule/per-server timeout precedence
// decided in SPEC_FULL.md's Open Question #2: the rule's value wins when
// both are configured.
func (r *Rule) EffectiveReadTimeout(serverDefault time.Duration) time.Duration {
	if r.ReadTimeout > 0 {
		return r.ReadTimeout
	}
	return serverDefault
}

func (r *Rule) EffectiveWriteTimeout(serverDefault time.Duration) time.Duration {
	if r.WriteTimeout > 0 {
		return r.WriteTimeout
	}
	return serverDefault
}

// HasUpstreams reports whether the rule names at least one upstream; an
// empty list is a configuration error made visible per-request as a 404
// (§4.4).
func (r *Rule) HasUpstreams() bool {
	return len(r.UpstreamNames) > 0
}
