package filter

import (
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/transport"
)

// HeaderRewriteFilter applies the §4.4 header rewrite policy before the
// request is handed to the upstream codec filter. It is always the first
// decoder filter in the chain.
type HeaderRewriteFilter struct {
	PeerIP       string
	PeerPort     string
	SSL          *transport.SSLConnectionInfo
	Policy       domain.HeaderPolicy
	StripHeaders []string
}

var sslHeaderNames = []string{
	"x-ssl-subject", "x-ssl-issuer", "x-ssl-notbefore", "x-ssl-notafter",
	"x-ssl-serial", "x-ssl-sha1", "x-ssl-cipher", "x-ssl-certificate",
}

func (f *HeaderRewriteFilter) DecodeHeaders(h *Headers, endStream bool) Status {
	// x-forwarded-for: client-supplied value is never trusted.
	h.Set("x-forwarded-for", f.PeerIP+":"+f.PeerPort)

	// client must not forge any ssl header; always strip first.
	for _, name := range sslHeaderNames {
		h.Del(name)
	}
	if f.SSL != nil {
		if f.Policy.XSSLSubject {
			h.Set("x-ssl-subject", f.SSL.Subject)
		}
		if f.Policy.XSSLIssuer {
			h.Set("x-ssl-issuer", f.SSL.Issuer)
		}
		if f.Policy.XSSLNotBefore {
			h.Set("x-ssl-notbefore", f.SSL.NotBefore.String())
		}
		if f.Policy.XSSLNotAfter {
			h.Set("x-ssl-notafter", f.SSL.NotAfter.String())
		}
		if f.Policy.XSSLSerial {
			h.Set("x-ssl-serial", f.SSL.Serial)
		}
		if f.Policy.XSSLSHA1 {
			h.Set("x-ssl-sha1", f.SSL.SHA1)
		}
		if f.Policy.XSSLCipher {
			h.Set("x-ssl-cipher", f.SSL.Cipher)
		}
		if f.Policy.XSSLCertificate {
			h.Set("x-ssl-certificate", string(f.SSL.Certificate))
		}
		if f.SSL.PeerCertExt != nil {
			for _, ext := range f.Policy.X509Extensions {
				if val, ok := f.SSL.PeerCertExt(ext.OID); ok {
					h.Set(ext.Name, string(val))
				}
			}
		}
	}

	for _, name := range f.StripHeaders {
		h.Del(name)
	}

	return Continue
}

func (f *HeaderRewriteFilter) DecodeData(buf []byte, endStream bool) Status { return Continue }
func (f *HeaderRewriteFilter) DecodeTrailers(t *Trailers) Status           { return Continue }
