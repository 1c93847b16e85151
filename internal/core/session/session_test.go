package session

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/router"
	"github.com/ravelproxy/ravel/internal/core/worker"
	"github.com/ravelproxy/ravel/internal/logger"
	"github.com/ravelproxy/ravel/theme"
)

func discardLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
}

// TestPassthroughRoundTripIsByteIdentical pins down §8 R1: a request routed
// to a passthrough rule, against an origin that echoes every byte it
// receives verbatim, must arrive back at the client byte-identical to what
// the origin actually received — exercising servePassthrough's real
// io.Copy-based byte pump, not just router.IsPassthrough's detector.
func TestPassthroughRoundTripIsByteIdentical(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer originLn.Close()

	sentToOrigin := make(chan []byte, 1)
	go func() {
		oc, err := originLn.Accept()
		if err != nil {
			return
		}
		defer oc.Close()
		var captured bytes.Buffer
		tee := io.TeeReader(oc, &captured)
		io.Copy(oc, tee) // echo everything received, byte for byte
		sentToOrigin <- captured.Bytes()
	}()

	host, portStr, err := net.SplitHostPort(originLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	origin := &domain.Origin{Name: "echo", Host: host, Port: port, TargetConnCount: 1}
	disp := dispatcher.New()
	go disp.Run()
	defer disp.Stop()

	p := pool.New(origin, disp)
	disp.Post(p.Fill)

	deadline := time.After(time.Second)
	for {
		_, idle, _ := p.Counts()
		if idle > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("origin pool connection never became idle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	rule := &domain.Rule{
		MatchKind:     domain.MatchDefault,
		UpstreamNames: []string{"echo"},
		LBMethod:      domain.LBRTT,
		Passthrough:   true,
	}
	vhost := &domain.VHost{Wildcard: true, Rules: []*domain.Rule{rule}}
	rtr := router.New([]*domain.VHost{vhost})
	w := worker.New(disp, rtr, map[string]*pool.Pool{"echo": p}, 0, 0)

	downstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer downstreamLn.Close()
	go func() {
		conn, err := downstreamLn.Accept()
		if err != nil {
			return
		}
		Handle(w, conn, time.Second, discardLogger())
	}()

	clientConn, err := net.Dial("tcp", downstreamLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	payload := "hello upstream, echo this back byte for byte\n"
	request := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n" + payload
	if _, err := clientConn.Write([]byte(request)); err != nil {
		t.Fatal(err)
	}
	if cw, ok := clientConn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	got, err := io.ReadAll(clientConn)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case want := <-sentToOrigin:
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip not byte-identical:\n sent to origin:   %q\n received by client: %q", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("origin never reported what it received")
	}
}
