// Package session drives one accepted downstream connection through the
// §4.4/§4.6 request path: HTTP/1.x parsing, header-rewrite and codec
// filtering, rule matching, pool connection lease, per-attempt upstream
// request tracking, and response relay with watermark backpressure on both
// the origin-bound and client-bound directions. Grounded on the teacher's
// net/http-based olla.Service.ProxyRequest
// (internal/adapter/proxy/olla/service.go) for the request/response
// plumbing, adapted to source from a raw net.Conn instead of
// net/http.Server, to lease its upstream socket from this module's own
// pool.Pool rather than http.Transport's connection pool, and to drive the
// request through connection.Connection/upstreamrequest.UpstreamRequest
// and the filter.Manager chain instead of writing straight to the wire.
package session

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ravelproxy/ravel/internal/config"
	"github.com/ravelproxy/ravel/internal/core/connection"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/filter"
	"github.com/ravelproxy/ravel/internal/core/iohandle"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/router"
	"github.com/ravelproxy/ravel/internal/core/streaminfo"
	"github.com/ravelproxy/ravel/internal/core/transport"
	"github.com/ravelproxy/ravel/internal/core/upstreamrequest"
	"github.com/ravelproxy/ravel/internal/core/worker"
	"github.com/ravelproxy/ravel/internal/logger"
)

// Handle drives one downstream HTTP/1.x connection until the client closes
// it, a request is rejected as non-keep-alive, or a read/write error occurs.
// Run it on its own goroutine; it blocks on I/O throughout.
func Handle(w *worker.Worker, conn net.Conn, defaultTimeout time.Duration, log *logger.StyledLogger) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	handle := iohandle.New(conn)
	socket := transport.NewTCPSocket()
	_ = socket.Connect(handle)
	dsConn := connection.New(w.Dispatcher, handle, socket, config.DefaultHighWatermark)

	bw := newBackpressureWriter(w, dsConn)
	dsConn.OnHighWatermark = bw.setRaised
	dsConn.OnClosed = func(err error) {
		if err != nil {
			log.Debug("downstream write failed", "error", err, "remote", conn.RemoteAddr().String())
		}
	}

	// connState is the connection-lifespan FilterState (§3) shared by every
	// StreamInfo built for a request on this socket.
	connState := streaminfo.NewFilterState(streaminfo.LifeSpanConnection, nil)

	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				log.Debug("downstream request read failed", "error", err, "remote", conn.RemoteAddr().String())
			}
			return
		}

		if !serveOne(w, conn, reader, bw, connState, req, defaultTimeout, log) {
			return
		}
	}
}

// serveOne handles a single request/response cycle and reports whether the
// downstream connection should stay open for another request.
func serveOne(w *worker.Worker, conn net.Conn, reader *bufio.Reader, bw *backpressureWriter, connState *streaminfo.FilterState, req *http.Request, defaultTimeout time.Duration, log *logger.StyledLogger) bool {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	path := req.URL.RequestURI()

	vhost, rule, err := w.Router.Match(host, path)
	if err != nil {
		writeError(bw, http.StatusNotFound, "no route found")
		return false
	}

	// reqLog/errLog resolve the rule's own access/error logger, already
	// back-filled rule->vhost->server at config load time (config.Rule.toDomain),
	// so every request always has somewhere to log without a nil check here.
	reqLog := log.With("log", rule.ReqLogName)
	errLog := log.With("log", rule.ErrLogName)

	if router.IsPassthrough(rule, domain.Method(req.Method), req.Header.Get("Upgrade")) {
		return servePassthrough(w, conn, reader, bw, host, path, req, errLog)
	}

	peerIP, peerPort := splitRemoteAddr(conn.RemoteAddr())

	timeout := rule.EffectiveReadTimeout(defaultTimeout)
	pconn, p, err := acquireSync(w, host, path)
	if err != nil {
		writeError(bw, http.StatusBadGateway, err.Error())
		return false
	}
	upstreamConn := pconn.Handle().Conn()
	if timeout > 0 {
		_ = upstreamConn.SetDeadline(time.Now().Add(timeout))
		defer upstreamConn.SetDeadline(time.Time{})
	}

	// The origin-bound connection.Connection is the §4.6 primary
	// high_watermark case: it reuses the pool connection's already
	// established IoHandle/Socket rather than wrapping the raw net.Conn a
	// second time, so the pool keeps owning that socket's lifecycle.
	usConn := connection.New(w.Dispatcher, pconn.Handle(), pconn.Socket(), pconn.Origin().HighWatermark)
	usWriter := newBackpressureWriter(w, usConn)

	info := streaminfo.NewStreamInfo(connState)
	ur := upstreamrequest.New(rule, pconn.Origin(), pconn, info)

	usConn.OnHighWatermark = func(raised bool) {
		usWriter.setRaised(raised)
		if raised {
			ur.NoteUpstreamHighWatermark()
		}
	}
	bw.setNote(func(bool) { ur.NoteHighWatermark() })
	defer bw.setNote(nil)

	info.Upstream.LocalAddress = upstreamConn.LocalAddr()
	info.Upstream.RemoteAddress = upstreamConn.RemoteAddr()
	info.Upstream.Protocol = req.Proto

	if err := ur.BeginConnect(); err != nil {
		errLog.Debug("upstream request state error", "error", err)
	}
	if err := ur.ConnectComplete(); err != nil {
		errLog.Debug("upstream request state error", "error", err)
	}

	start := time.Now()
	req.URL.Scheme = "http"
	req.URL.Host = pconn.Origin().Address()
	req.RequestURI = ""

	headerFilter := &filter.HeaderRewriteFilter{
		PeerIP:       peerIP,
		PeerPort:     peerPort,
		Policy:       router.EffectivePolicy(vhost, rule),
		StripHeaders: router.EffectiveStripHeaders(vhost),
	}
	usFilter := &upstreamCodecFilter{writer: usWriter}
	dsFilter := &downstreamCodecFilter{writer: bw}
	mgr := filter.NewManager(
		[]filter.DecoderFilter{headerFilter, usFilter},
		[]filter.EncoderFilter{dsFilter},
		nil,
	)

	hdrs := fromHTTPHeader(req.Method, path, host, req.Proto, req.Header)
	if mgr.DecodeHeaders(hdrs, req.ContentLength == 0) == filter.StopIteration {
		_ = ur.ResetAttempt(streaminfo.UpstreamConnectionFailure)
		releaseSync(w, p, pconn, 0, true)
		writeError(bw, http.StatusBadGateway, "failed writing to upstream")
		return false
	}
	toHTTPHeader(hdrs, req.Header)
	_ = ur.HeadersSent()

	if req.ContentLength != 0 && req.Body != nil {
		if err := driveRequestBody(mgr, usWriter, req.Body, ur); err != nil {
			_ = ur.ResetAttempt(streaminfo.UpstreamConnectionFailure)
			releaseSync(w, p, pconn, 0, true)
			writeError(bw, http.StatusBadGateway, "failed writing to upstream")
			return false
		}
	}
	if status := mgr.DecodeTrailers(&filter.Trailers{}); status == filter.StopIteration {
		_ = ur.ResetAttempt(streaminfo.UpstreamConnectionFailure)
		releaseSync(w, p, pconn, 0, true)
		writeError(bw, http.StatusBadGateway, "failed writing to upstream")
		return false
	}

	resp, err := http.ReadResponse(bufio.NewReader(upstreamConn), req)
	if err != nil {
		_ = ur.ResetAttempt(streaminfo.UpstreamConnectionTermination)
		releaseSync(w, p, pconn, 0, true)
		writeError(bw, http.StatusBadGateway, "failed reading upstream response")
		return false
	}
	rtt := time.Since(start)
	info.ResponseCode = resp.StatusCode

	dsFilter.statusCode = resp.StatusCode
	rhdrs := fromHTTPHeader("", "", "", resp.Proto, resp.Header)
	before := bw.bytesWritten()

	encodeFailed := false
	switch mgr.EncodeHeaders(rhdrs, resp.ContentLength == 0) {
	case filter.StopIteration:
		encodeFailed = true
	}
	if !encodeFailed && resp.ContentLength != 0 && resp.Body != nil {
		if _, err := driveResponseBody(mgr, resp.Body); err != nil {
			encodeFailed = true
		}
	}
	if !encodeFailed {
		if status := mgr.EncodeTrailers(&filter.Trailers{}); status == filter.StopIteration {
			encodeFailed = true
		}
	}
	resp.Body.Close()
	ur.ResponseReceived(int(bw.bytesWritten() - before))

	if encodeFailed {
		_ = ur.ResetAttempt(streaminfo.DownstreamConnectionTermination)
		releaseSync(w, p, pconn, rtt, true)
		return false
	}

	if err := ur.Complete(); err != nil {
		errLog.Debug("upstream request state error", "error", err)
	}
	if ur.Flags.HitHighWM || ur.Flags.HitUpstreamHighWM {
		reqLog.Debug("request hit high watermark", "downstream", ur.Flags.HitHighWM, "upstream", ur.Flags.HitUpstreamHighWM)
	}
	reqLog.Debug("request complete",
		"method", req.Method, "path", path, "host", host,
		"status", resp.StatusCode, "bytes", bw.bytesWritten()-before, "rtt", rtt)
	releaseSync(w, p, pconn, rtt, false)

	return !router.NormalizeKeepAlive(req.Proto, req.Header.Get("Connection"))
}

// servePassthrough implements the §4.4 passthrough path for a matched
// passthrough rule, a CONNECT method, or an Upgrade request: the request
// headers (and any body) are forwarded to the leased origin connection
// as-is, then both IO handles are detached into an opaque bidirectional
// byte pump (§8 R1) until either side closes. The leased connection is
// never returned to the pool afterward, since its state after an opaque
// tunnel is no longer something a future request can safely reuse.
func servePassthrough(w *worker.Worker, conn net.Conn, reader *bufio.Reader, bw *backpressureWriter, host, path string, req *http.Request, log *logger.StyledLogger) bool {
	pconn, p, err := acquireSync(w, host, path)
	if err != nil {
		writeError(bw, http.StatusBadGateway, err.Error())
		return false
	}
	upstreamConn := pconn.Handle().Conn()

	req.URL.Scheme = "http"
	req.URL.Host = pconn.Origin().Address()
	req.RequestURI = ""

	if err := req.Write(upstreamConn); err != nil {
		releaseSync(w, p, pconn, 0, true)
		writeError(bw, http.StatusBadGateway, "failed writing to upstream")
		return false
	}

	pumpBidirectional(log, reader, conn, upstreamConn)
	releaseSync(w, p, pconn, 0, true)
	return false
}

// pumpBidirectional relays raw bytes between the downstream client and the
// leased origin connection in both directions concurrently until both
// sides have reached EOF, half-closing each destination as its source
// drains. reader is used (rather than conn directly) so any bytes already
// buffered ahead of the request headers are not dropped.
func pumpBidirectional(log *logger.StyledLogger, reader io.Reader, client, origin net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, err := io.Copy(origin, reader)
		if err != nil && !isClosedErr(err) {
			log.Debug("passthrough client->origin copy failed", "error", err)
		}
		if cw, ok := origin.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		_, err := io.Copy(client, origin)
		if err != nil && !isClosedErr(err) {
			log.Debug("passthrough origin->client copy failed", "error", err)
		}
		if cw, ok := client.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	wg.Wait()
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// driveRequestBody streams the request body through the decoder chain in
// fixed-size chunks, parking on the origin writer's watermark via
// pushDecodeData whenever it is above HighWatermark.
func driveRequestBody(mgr *filter.Manager, usWriter *backpressureWriter, body io.ReadCloser, ur *upstreamrequest.UpstreamRequest) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if derr := pushDecodeData(mgr, usWriter, buf[:n]); derr != nil {
				return derr
			}
			_ = ur.DataSent(n)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// driveResponseBody streams the response body through the encoder chain.
// Unlike the decoder side, the Manager offers no resume primitive for the
// encode direction; downstreamCodecFilter's writer already blocks the
// calling goroutine while the client's outbound buffer is over watermark
// (the pre-existing backpressureWriter.Write contract), so no separate
// stop/continue dance is needed here.
func driveResponseBody(mgr *filter.Manager, body io.ReadCloser) (int64, error) {
	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if status := mgr.EncodeData(buf[:n], false); status == filter.StopIteration {
				return total, io.ErrClosedPipe
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func splitRemoteAddr(addr net.Addr) (ip, port string) {
	ip, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}
	return ip, port
}

func writeError(bw *backpressureWriter, status int, msg string) {
	resp := http.Response{
		StatusCode: status,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(msg)),
	}
	_ = resp.Write(bw)
}

// fromHTTPHeader lowercases keys to match HeaderRewriteFilter's literal
// "x-forwarded-for"-style lookups (filter.Headers does no canonicalisation
// of its own).
func fromHTTPHeader(method, path, host, proto string, h http.Header) *filter.Headers {
	fields := make(map[string][]string, len(h))
	for k, v := range h {
		fields[strings.ToLower(k)] = v
	}
	return &filter.Headers{Method: method, Path: path, Host: host, Version: proto, Fields: fields}
}

func toHTTPHeader(hdrs *filter.Headers, h http.Header) {
	for k := range h {
		delete(h, k)
	}
	for k, v := range hdrs.Fields {
		h[http.CanonicalHeaderKey(k)] = v
	}
}

// acquireSync runs Worker.Acquire on the worker's own dispatcher goroutine
// (as its contract requires) and blocks the calling goroutine for the result.
func acquireSync(w *worker.Worker, host, path string) (*pool.Connection, *pool.Pool, error) {
	type result struct {
		conn *pool.Connection
		p    *pool.Pool
		err  error
	}
	ch := make(chan result, 1)
	w.Dispatcher.Post(func() {
		w.Acquire(host, path,
			func(c *pool.Connection, p *pool.Pool) { ch <- result{c, p, nil} },
			func(err error) { ch <- result{nil, nil, err} },
		)
	})
	r := <-ch
	return r.conn, r.p, r.err
}

// releaseSync mirrors acquireSync for Worker.Release.
func releaseSync(w *worker.Worker, p *pool.Pool, c *pool.Connection, rtt time.Duration, failed bool) {
	done := make(chan struct{})
	w.Dispatcher.Post(func() {
		w.Release(p, c, rtt, failed)
		close(done)
	})
	<-done
}

// backpressureWriter adapts the dispatcher-owned connection.Connection to
// an io.Writer so response/request serialization can stream straight into
// it. Writes are hopped onto the worker's dispatcher goroutine
// (connection.Connection's contract) and block on the caller's side
// whenever the outbound buffer is over its high watermark (§4.6). One
// instance wraps the downstream (client) connection and lives for the
// socket's whole keep-alive lifetime; a second, per-request instance wraps
// whichever origin connection.Connection is leased for that request.
type backpressureWriter struct {
	w  *worker.Worker
	c  *connection.Connection
	mu sync.Mutex
	cv *sync.Cond

	raised  bool
	written int64
	note    func(bool)
}

func newBackpressureWriter(w *worker.Worker, c *connection.Connection) *backpressureWriter {
	bw := &backpressureWriter{w: w, c: c}
	bw.cv = sync.NewCond(&bw.mu)
	return bw
}

func (bw *backpressureWriter) setRaised(raised bool) {
	bw.mu.Lock()
	bw.raised = raised
	note := bw.note
	bw.mu.Unlock()
	bw.cv.Broadcast()
	if raised && note != nil {
		note(true)
	}
}

// setNote installs a per-request callback fired whenever the connection's
// watermark raises; callers must clear it (pass nil) once the request
// finishes, since the writer itself outlives any one request on a
// keep-alive downstream connection.
func (bw *backpressureWriter) setNote(note func(bool)) {
	bw.mu.Lock()
	bw.note = note
	bw.mu.Unlock()
}

func (bw *backpressureWriter) isRaised() bool {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.raised
}

// waitUntilDrained blocks until the watermark is no longer raised.
func (bw *backpressureWriter) waitUntilDrained() {
	bw.mu.Lock()
	for bw.raised {
		bw.cv.Wait()
	}
	bw.mu.Unlock()
}

func (bw *backpressureWriter) bytesWritten() int64 {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.written
}

// tryWrite writes p only if the watermark is not currently raised,
// reporting wrote=false instead of blocking when it is. This is what lets
// the upstream codec filter report StopAllIterationAndWatermark instead of
// stalling the decode call outright (§4.4/§9).
func (bw *backpressureWriter) tryWrite(p []byte) (wrote bool, err error) {
	bw.mu.Lock()
	if bw.raised {
		bw.mu.Unlock()
		return false, nil
	}
	bw.mu.Unlock()

	if bw.c.State() == connection.StateClosed {
		return false, io.ErrClosedPipe
	}

	buf := append([]byte(nil), p...)
	done := make(chan struct{})
	bw.w.Dispatcher.Post(func() {
		bw.c.Write(buf, false)
		close(done)
	})
	<-done

	bw.mu.Lock()
	bw.written += int64(len(p))
	bw.mu.Unlock()

	if bw.c.State() == connection.StateClosed {
		return true, io.ErrClosedPipe
	}
	return true, nil
}

func (bw *backpressureWriter) Write(p []byte) (int, error) {
	bw.mu.Lock()
	for bw.raised {
		bw.cv.Wait()
	}
	bw.mu.Unlock()

	if bw.c.State() == connection.StateClosed {
		return 0, io.ErrClosedPipe
	}

	buf := append([]byte(nil), p...)
	done := make(chan struct{})
	bw.w.Dispatcher.Post(func() {
		bw.c.Write(buf, false)
		close(done)
	})
	<-done

	bw.mu.Lock()
	bw.written += int64(len(p))
	bw.mu.Unlock()

	if bw.c.State() == connection.StateClosed {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}
