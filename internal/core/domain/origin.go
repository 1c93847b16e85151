package domain

import (
	"strconv"
	"time"
)

// Origin is the §3 Upstream descriptor. Identity is Name: two descriptors
// sharing a name refer to the same pool.
type Origin struct {
	Name                string
	Host                string
	Port                int
	TargetConnCount     int
	HighWatermark       int // bytes; 0 disables watermark logic (B3)
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RetryInterval       time.Duration
	TLS                 *TLSConfig
	Enabled             bool
}

func (o *Origin) Address() string {
	return o.Host + ":" + strconv.Itoa(o.Port)
}

// TLSConfig is the §6 opaque TLS surface the core treats as a typed
// capability set; the certificate/CRL machinery itself is an external
// collaborator (§1 Non-goals).
type TLSConfig struct {
	Cert              string
	Key               string
	CA                string
	CAPath            string
	Ciphers           []string
	SNI               string
	VerifyPeer        bool
	EnforcePeerCert   bool
	VerifyDepth       int
	ContextTimeout    time.Duration
	CacheEnabled      bool
	CacheTimeout      time.Duration
	CacheSize         int
	ProtocolsOn       []string
	ProtocolsOff      []string
	CRL               *CRLConfig
}

type CRLConfig struct {
	File          string
	Dir           string
	ReloadSeconds time.Duration
}

// OriginStatus is a derived, logging-facing summary of an Origin's pool
// state (never stored directly; computed from PoolConnection states).
type OriginStatus string

const (
	OriginStatusHealthy   OriginStatus = "healthy"
	OriginStatusDegraded  OriginStatus = "degraded"
	OriginStatusDown      OriginStatus = "down"
	OriginStatusUnknown   OriginStatus = "unknown"
)

func (s OriginStatus) String() string { return string(s) }
