// Package transport implements the §4.2 Transport Socket: the protocol
// adapter (plain TCP or TLS) that sits above an IO handle.
package transport

import (
	"time"

	"github.com/ravelproxy/ravel/internal/core/iohandle"
)

// Action is the result of a do_read/do_write call.
type Action int

const (
	KeepOpen Action = iota
	Close
)

// Socket is the transport socket contract of §4.2.
type Socket interface {
	Connect(h *iohandle.IoHandle) error
	DoRead(buf []byte) (action Action, n int, endStream bool, err error)
	DoWrite(buf []byte, endStream bool) (action Action, n int, written bool, err error)
	OnConnected()
	SSL() *SSLConnectionInfo
	CreateIoHandle() *iohandle.IoHandle
}

// SSLConnectionInfo is populated only for TLS-terminated sockets.
type SSLConnectionInfo struct {
	Subject     string
	Issuer      string
	SHA1        string
	Cipher      string
	NotBefore   time.Time
	NotAfter    time.Time
	Serial      string
	Certificate []byte
	PeerCertExt func(oid string) ([]byte, bool)
}

// ErrnoFlag maps a POSIX-ish error into one of the §7 response flags; kept
// as a string here (not an import of streaminfo, to avoid a cycle) and
// translated by the connection layer.
type ErrnoFlag string

const (
	FlagConnectionFailure ErrnoFlag = "UpstreamConnectionFailure"
	FlagConnectionTermination ErrnoFlag = "UpstreamConnectionTermination"
	FlagTimeout ErrnoFlag = "UpstreamRequestTimeout"
	FlagProtocolError ErrnoFlag = "ProtocolError"
	FlagNone ErrnoFlag = ""
)

// ClassifyError maps a transport-level error to a response flag. Plain
// TCP/TLS errors are distinguished by the caller (read vs write, timeout
// vs EOF vs reset) since the net package doesn't give a uniform errno.
func ClassifyError(err error, isTimeout, isEOF bool) ErrnoFlag {
	switch {
	case err == nil:
		return FlagNone
	case isTimeout:
		return FlagTimeout
	case isEOF:
		return FlagConnectionTermination
	default:
		return FlagConnectionFailure
	}
}
