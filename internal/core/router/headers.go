package router

import "github.com/ravelproxy/ravel/internal/core/domain"

// EffectivePolicy merges a vhost's header policy with its matched rule's: a
// field is on when either the vhost or the rule turns it on (a rule cannot
// turn off a field its vhost enables), and the rule's x509 extension list is
// appended to the vhost's.
func EffectivePolicy(vhost *domain.VHost, rule *domain.Rule) domain.HeaderPolicy {
	p := vhost.Header
	r := rule.Header
	if r.XForwardedFor {
		p.XForwardedFor = true
	}
	if r.XSSLSubject {
		p.XSSLSubject = true
	}
	if r.XSSLIssuer {
		p.XSSLIssuer = true
	}
	if r.XSSLNotBefore {
		p.XSSLNotBefore = true
	}
	if r.XSSLNotAfter {
		p.XSSLNotAfter = true
	}
	if r.XSSLSerial {
		p.XSSLSerial = true
	}
	if r.XSSLSHA1 {
		p.XSSLSHA1 = true
	}
	if r.XSSLCipher {
		p.XSSLCipher = true
	}
	if r.XSSLCertificate {
		p.XSSLCertificate = true
	}
	if len(r.X509Extensions) > 0 {
		p.X509Extensions = append(append([]domain.X509ExtensionHeader(nil), p.X509Extensions...), r.X509Extensions...)
	}
	return p
}

// EffectiveStripHeaders returns the vhost's strip list; rules carry no strip
// list of their own.
func EffectiveStripHeaders(vhost *domain.VHost) []string {
	return vhost.StripHeaders
}

// NormalizeKeepAlive reports whether the connection should close after this
// response, per §4.4: HTTP/1.0 without an explicit keep-alive, or any
// request/response pair naming "close", always wins over everything else.
func NormalizeKeepAlive(httpVersion string, connectionHeader string) (closeAfter bool) {
	v := normalizeToken(connectionHeader)
	switch {
	case v == "close":
		return true
	case httpVersion == "HTTP/1.0":
		return v != "keep-alive"
	default:
		return false
	}
}

func normalizeToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// IsPassthrough reports whether this rule should bypass the filter chain
// body inspection entirely (e.g. CONNECT / protocol upgrade), per §4.4.
func IsPassthrough(rule *domain.Rule, method domain.Method, upgradeHeader string) bool {
	if rule.Passthrough {
		return true
	}
	if method == domain.MethodConnect {
		return true
	}
	return upgradeHeader != ""
}
