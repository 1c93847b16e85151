package config

import "github.com/ravelproxy/ravel/internal/core/domain"

// ToDomainOrigin converts a parsed Upstream into the domain.Origin the pool
// package operates on, filling a zero TargetConnCount or RetryInterval from
// the process-wide defaults; every other field, including the read/write
// timeouts and HighWatermark, is copied as given.
func (u *Upstream) ToDomainOrigin() *domain.Origin {
	targetConnCount := u.TargetConnCount
	if targetConnCount <= 0 {
		targetConnCount = DefaultTargetConnCount
	}
	retryInterval := u.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	return &domain.Origin{
		Name:            u.Name,
		Host:            u.Host,
		Port:            u.Port,
		TargetConnCount: targetConnCount,
		HighWatermark:   u.HighWatermark,
		ReadTimeout:     u.ReadTimeout,
		WriteTimeout:    u.WriteTimeout,
		RetryInterval:   retryInterval,
		TLS:             u.TLS.toDomain(),
		Enabled:         u.Enabled,
	}
}

// ToDomainVHost converts a parsed VHost (and its Rules) into the domain
// types the Router matches against. serverReqLog/serverErrLog are the
// server's own resolved logger names, used to back-fill the vhost's (and
// transitively each rule's) logger when the vhost itself left them unset —
// the rule->vhost->server fallback chain from rproxy.c's logger resolution.
func (v *VHost) ToDomainVHost(serverReqLog, serverErrLog string) *domain.VHost {
	reqLog := v.ReqLogName
	if reqLog == "" {
		reqLog = serverReqLog
	}
	errLog := v.ErrLogName
	if errLog == "" {
		errLog = serverErrLog
	}

	rules := make([]*domain.Rule, 0, len(v.Rules))
	for i := range v.Rules {
		rules = append(rules, v.Rules[i].toDomain(reqLog, errLog))
	}

	rewrites := make([]domain.URLRewrite, 0, len(v.RewriteURLs))
	for _, rw := range v.RewriteURLs {
		rewrites = append(rewrites, domain.URLRewrite{Match: rw.Match, Replacement: rw.Replacement})
	}

	return &domain.VHost{
		PrimaryName:  v.PrimaryName,
		Aliases:      append([]string(nil), v.Aliases...),
		TLS:          v.TLS.toDomain(),
		Rules:        rules,
		Header:       v.Header.toDomain(),
		StripHeaders: append([]string(nil), v.StripHeaders...),
		RewriteURLs:  rewrites,
		Wildcard:     v.Wildcard,
		ReqLogName:   reqLog,
		ErrLogName:   errLog,
	}
}

func (r *Rule) toDomain(vhostReqLog, vhostErrLog string) *domain.Rule {
	reqLog := r.ReqLogName
	if reqLog == "" {
		reqLog = vhostReqLog
	}
	errLog := r.ErrLogName
	if errLog == "" {
		errLog = vhostErrLog
	}
	return &domain.Rule{
		MatchKind:     domain.MatchKind(r.MatchKind),
		MatchString:   r.MatchString,
		LBMethod:      domain.LBMethod(r.LBMethod),
		DiscoveryType: r.DiscoveryType,
		UpstreamNames: append([]string(nil), r.UpstreamNames...),
		Header:        r.Header.toDomain(),
		Passthrough:   r.Passthrough,
		AllowRedirect: r.AllowRedirect,
		ReadTimeout:   r.ReadTimeout,
		WriteTimeout:  r.WriteTimeout,
		ReqLogName:    reqLog,
		ErrLogName:    errLog,
	}
}

func (h *HeaderPolicy) toDomain() domain.HeaderPolicy {
	exts := make([]domain.X509ExtensionHeader, 0, len(h.X509Extensions))
	for _, e := range h.X509Extensions {
		exts = append(exts, domain.X509ExtensionHeader{Name: e.Name, OID: e.OID})
	}
	return domain.HeaderPolicy{
		XForwardedFor:   h.XForwardedFor,
		XSSLSubject:     h.XSSLSubject,
		XSSLIssuer:      h.XSSLIssuer,
		XSSLNotBefore:   h.XSSLNotBefore,
		XSSLNotAfter:    h.XSSLNotAfter,
		XSSLSerial:      h.XSSLSerial,
		XSSLSHA1:        h.XSSLSHA1,
		XSSLCipher:      h.XSSLCipher,
		XSSLCertificate: h.XSSLCertificate,
		X509Extensions:  exts,
	}
}

func (t *TLSConfig) toDomain() *domain.TLSConfig {
	if t == nil {
		return nil
	}
	return &domain.TLSConfig{
		Cert:            t.Cert,
		Key:             t.Key,
		CA:              t.CA,
		CAPath:          t.CAPath,
		Ciphers:         append([]string(nil), t.Ciphers...),
		SNI:             t.SNI,
		VerifyPeer:      t.VerifyPeer,
		EnforcePeerCert: t.EnforcePeerCert,
		VerifyDepth:     t.VerifyDepth,
		ContextTimeout:  t.ContextTimeout,
		CacheEnabled:    t.CacheEnabled,
		CacheTimeout:    t.CacheTimeout,
		CacheSize:       t.CacheSize,
		ProtocolsOn:     append([]string(nil), t.ProtocolsOn...),
		ProtocolsOff:    append([]string(nil), t.ProtocolsOff...),
		CRL:             t.CRL.toDomain(),
	}
}

func (c *CRLConfig) toDomain() *domain.CRLConfig {
	if c == nil {
		return nil
	}
	return &domain.CRLConfig{
		File:          c.File,
		Dir:           c.Dir,
		ReloadSeconds: c.ReloadSeconds,
	}
}
