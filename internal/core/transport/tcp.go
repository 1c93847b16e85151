package transport

import (
	"errors"
	"io"
	"net"

	"github.com/ravelproxy/ravel/internal/core/iohandle"
)

// TCPSocket is the plain (non-TLS) transport socket.
type TCPSocket struct {
	handle    *iohandle.IoHandle
	connected bool
}

func NewTCPSocket() *TCPSocket {
	return &TCPSocket{}
}

func (t *TCPSocket) Connect(h *iohandle.IoHandle) error {
	t.handle = h
	t.connected = true
	return nil
}

func (t *TCPSocket) DoRead(buf []byte) (Action, int, bool, error) {
	n, eof, err := t.handle.Read(buf)
	if err != nil {
		return Close, n, false, err
	}
	if eof {
		return Close, n, true, nil
	}
	return KeepOpen, n, false, nil
}

func (t *TCPSocket) DoWrite(buf []byte, endStream bool) (Action, int, bool, error) {
	n, err := t.handle.Write(buf)
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			return Close, n, false, err
		}
		return Close, n, false, err
	}
	if endStream && n == len(buf) {
		_ = t.handle.Shutdown("write")
	}
	return KeepOpen, n, n == len(buf), nil
}

func (t *TCPSocket) OnConnected() {}

func (t *TCPSocket) SSL() *SSLConnectionInfo { return nil }

func (t *TCPSocket) CreateIoHandle() *iohandle.IoHandle { return t.handle }
