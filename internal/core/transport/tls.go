package transport

import (
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"fmt"

	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
)

// TLSSocket adapts a *tls.Conn to the transport Socket contract. The cert
// chain / cipher list / CRL reload machinery is assembled by an external
// collaborator (spec.md §1, §6): this type only consumes an already
// configured *tls.Config.
type TLSSocket struct {
	cfg    *domain.TLSConfig
	tlsCfg *tls.Config
	conn   *tls.Conn
	handle *iohandle.IoHandle
	info   *SSLConnectionInfo
}

func NewTLSSocket(cfg *domain.TLSConfig, tlsCfg *tls.Config) *TLSSocket {
	return &TLSSocket{cfg: cfg, tlsCfg: tlsCfg}
}

func (t *TLSSocket) Connect(h *iohandle.IoHandle) error {
	t.handle = h
	conn := tls.Client(h.Conn(), t.tlsCfg)
	if err := conn.Handshake(); err != nil {
		return err
	}
	t.conn = conn
	t.handle = iohandle.New(conn)
	t.populateInfo()
	return nil
}

func (t *TLSSocket) populateInfo() {
	state := t.conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	cert := state.PeerCertificates[0]
	sum := sha1.Sum(cert.Raw)
	t.info = &SSLConnectionInfo{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		SHA1:        hex.EncodeToString(sum[:]),
		Cipher:      tls.CipherSuiteName(state.CipherSuite),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		Serial:      cert.SerialNumber.String(),
		Certificate: cert.Raw,
		PeerCertExt: func(oid string) ([]byte, bool) {
			for _, ext := range cert.Extensions {
				if ext.Id.String() == oid {
					return ext.Value, true
				}
			}
			return nil, false
		},
	}
}

func (t *TLSSocket) DoRead(buf []byte) (Action, int, bool, error) {
	n, err := t.conn.Read(buf)
	if err != nil {
		return Close, n, err.Error() == "EOF", err
	}
	return KeepOpen, n, false, nil
}

func (t *TLSSocket) DoWrite(buf []byte, endStream bool) (Action, int, bool, error) {
	n, err := t.conn.Write(buf)
	if err != nil {
		return Close, n, false, err
	}
	if endStream && n == len(buf) {
		_ = t.conn.CloseWrite()
	}
	return KeepOpen, n, n == len(buf), nil
}

func (t *TLSSocket) OnConnected() {}

func (t *TLSSocket) SSL() *SSLConnectionInfo { return t.info }

func (t *TLSSocket) CreateIoHandle() *iohandle.IoHandle { return t.handle }

// VerifyNotRevoked checks a CRL subsection per §6: verification rejects any
// leaf whose issuer-CRL marks it revoked or whose nextUpdate has expired.
// The CRL itself is loaded/reloaded by an external collaborator timer; this
// function only consumes the parsed revoked-serial set.
func VerifyNotRevoked(serial string, revoked map[string]struct{}, crlExpired bool) error {
	if crlExpired {
		return fmt.Errorf("crl expired")
	}
	if _, ok := revoked[serial]; ok {
		return fmt.Errorf("certificate serial %s is revoked", serial)
	}
	return nil
}
