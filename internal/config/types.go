package config

import "time"

// Config is the §3 Configuration tree root: a list of Servers. It is read
// at startup and never mutated by the core afterwards.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Engineering EngineeringConfig `yaml:"engineering"`
	Servers     []ServerConfig    `yaml:"servers"`
}

// ServerConfig is a §3 Server: a bind address/port, its worker pool sizing,
// optional TLS terminator, and the Upstreams/VHosts it serves.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Workers         int           `yaml:"workers"`
	ListenBacklog   int           `yaml:"listen_backlog"`
	MaxPending      int           `yaml:"max_pending"`
	PendingTimeout  time.Duration `yaml:"pending_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             *TLSConfig    `yaml:"tls"`
	Upstreams       []Upstream    `yaml:"upstreams"`
	VHosts          []VHost       `yaml:"vhosts"`
	ReqLogName      string        `yaml:"req_log"`
	ErrLogName      string        `yaml:"err_log"`
}

// Upstream is the §3 Upstream descriptor. Name is the key Rules reference
// by `upstream_names`; two descriptors sharing a name are a config error
// caught by Validate.
type Upstream struct {
	Name            string        `yaml:"name"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TargetConnCount int           `yaml:"target_conn_count"`
	HighWatermark   int           `yaml:"high_watermark"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	TLS             *TLSConfig    `yaml:"tls"`
	Enabled         bool          `yaml:"enabled"`
}

// VHost is the §3 VHost: a primary name plus aliases, its ordered Rules,
// and the header rewrite/strip policy that applies unless a Rule overrides it.
type VHost struct {
	PrimaryName  string         `yaml:"primary_name"`
	Aliases      []string       `yaml:"aliases"`
	Wildcard     bool           `yaml:"wildcard"`
	TLS          *TLSConfig     `yaml:"tls"`
	Header       HeaderPolicy   `yaml:"header_policy"`
	StripHeaders []string       `yaml:"strip_headers"`
	RewriteURLs  []URLRewrite   `yaml:"rewrite_urls"`
	Rules        []Rule         `yaml:"rules"`
	ReqLogName   string         `yaml:"req_log"`
	ErrLogName   string         `yaml:"err_log"`
}

type URLRewrite struct {
	Match       string `yaml:"match"`
	Replacement string `yaml:"replacement"`
}

// Rule is a single §3 Rule entry in a VHost's ordered rule list.
type Rule struct {
	MatchKind     string        `yaml:"match_kind"`
	MatchString   string        `yaml:"match_string"`
	LBMethod      string        `yaml:"lb_method"`
	DiscoveryType string        `yaml:"discovery_type"`
	UpstreamNames []string      `yaml:"upstream_names"`
	Header        HeaderPolicy  `yaml:"header_policy"`
	Passthrough   bool          `yaml:"passthrough"`
	AllowRedirect bool          `yaml:"allow_redirect"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ReqLogName    string        `yaml:"req_log"`
	ErrLogName    string        `yaml:"err_log"`
}

// HeaderPolicy is the §4.4 header rewrite policy, attachable at vhost or rule level.
type HeaderPolicy struct {
	XForwardedFor   bool                   `yaml:"x_forwarded_for"`
	XSSLSubject     bool                   `yaml:"x_ssl_subject"`
	XSSLIssuer      bool                   `yaml:"x_ssl_issuer"`
	XSSLNotBefore   bool                   `yaml:"x_ssl_not_before"`
	XSSLNotAfter    bool                   `yaml:"x_ssl_not_after"`
	XSSLSerial      bool                   `yaml:"x_ssl_serial"`
	XSSLSHA1        bool                   `yaml:"x_ssl_sha1"`
	XSSLCipher      bool                   `yaml:"x_ssl_cipher"`
	XSSLCertificate bool                   `yaml:"x_ssl_certificate"`
	X509Extensions  []X509ExtensionHeader  `yaml:"x509_extensions"`
}

type X509ExtensionHeader struct {
	Name string `yaml:"name"`
	OID  string `yaml:"oid"`
}

// TLSConfig is the §6 opaque TLS surface: the core treats it as a typed
// capability set, never as parsing/cert-chain logic.
type TLSConfig struct {
	Cert            string        `yaml:"cert"`
	Key             string        `yaml:"key"`
	CA              string        `yaml:"ca"`
	CAPath          string        `yaml:"ca_path"`
	Ciphers         []string      `yaml:"ciphers"`
	SNI             string        `yaml:"sni"`
	VerifyPeer      bool          `yaml:"verify_peer"`
	EnforcePeerCert bool          `yaml:"enforce_peer_cert"`
	VerifyDepth     int           `yaml:"verify_depth"`
	ContextTimeout  time.Duration `yaml:"context_timeout"`
	CacheEnabled    bool          `yaml:"cache_enabled"`
	CacheTimeout    time.Duration `yaml:"cache_timeout"`
	CacheSize       int           `yaml:"cache_size"`
	ProtocolsOn     []string      `yaml:"protocols_on"`
	ProtocolsOff    []string      `yaml:"protocols_off"`
	CRL             *CRLConfig    `yaml:"crl"`
}

type CRLConfig struct {
	File          string        `yaml:"file"`
	Dir           string        `yaml:"dir"`
	ReloadSeconds time.Duration `yaml:"reload_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
