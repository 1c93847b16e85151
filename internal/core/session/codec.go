package session

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/ravelproxy/ravel/internal/core/filter"
)

// upstreamCodecFilter is the §4.4 "last filter on the decoder side": it is
// the one that actually hands bytes to the leased origin connection,
// instead of the chain being a pass-through side table. It always sits
// last in the decoder list so every earlier filter (header rewrite, etc.)
// has already run by the time bytes reach the wire.
//
// DecodeData reports StopAllIterationAndWatermark, not an error, when the
// origin writer is above its high watermark; Manager buffers the chunk and
// the session driver replays it via ContinueDecoding once the writer
// drains (§4.6 B3/Scenario 6), rather than blocking the whole decode call.
type upstreamCodecFilter struct {
	writer  *backpressureWriter
	chunked bool
	err     error
}

func (f *upstreamCodecFilter) DecodeHeaders(h *filter.Headers, endStream bool) filter.Status {
	_, hasCL := h.Get("content-length")
	f.chunked = !endStream && !hasCL
	setFramingHeader(h, f.chunked)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", h.Method, h.Path, h.Version)
	writeHeaderBlock(&buf, h)

	if _, err := f.writer.Write(buf.Bytes()); err != nil {
		f.err = err
		return filter.StopIteration
	}
	return filter.Continue
}

func (f *upstreamCodecFilter) DecodeData(buf []byte, endStream bool) filter.Status {
	if len(buf) == 0 {
		return filter.Continue
	}
	chunk := buf
	if f.chunked {
		chunk = frameChunk(buf)
	}
	wrote, err := f.writer.tryWrite(chunk)
	if err != nil {
		f.err = err
		return filter.StopIteration
	}
	if !wrote {
		return filter.StopAllIterationAndWatermark
	}
	return filter.Continue
}

func (f *upstreamCodecFilter) DecodeTrailers(t *filter.Trailers) filter.Status {
	if !f.chunked {
		return filter.Continue
	}
	if _, err := f.writer.Write([]byte("0\r\n\r\n")); err != nil {
		f.err = err
		return filter.StopIteration
	}
	return filter.Continue
}

// downstreamCodecFilter is the encoder-side counterpart: the only encoder
// filter wired in this deployment, it serializes the origin's response
// onto the leased downstream (client) connection. statusCode is set by the
// session driver once the response status line is known, since Headers
// carries no status-code field of its own.
type downstreamCodecFilter struct {
	writer     *backpressureWriter
	statusCode int
	chunked    bool
	err        error
}

func (f *downstreamCodecFilter) EncodeHeaders(h *filter.Headers, endStream bool) filter.Status {
	_, hasCL := h.Get("content-length")
	f.chunked = !endStream && !hasCL
	setFramingHeader(h, f.chunked)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", h.Version, f.statusCode, http.StatusText(f.statusCode))
	writeHeaderBlock(&buf, h)

	if _, err := f.writer.Write(buf.Bytes()); err != nil {
		f.err = err
		return filter.StopIteration
	}
	return filter.Continue
}

func (f *downstreamCodecFilter) EncodeData(buf []byte, endStream bool) filter.Status {
	if len(buf) == 0 {
		return filter.Continue
	}
	chunk := buf
	if f.chunked {
		chunk = frameChunk(buf)
	}
	if _, err := f.writer.Write(chunk); err != nil {
		f.err = err
		return filter.StopIteration
	}
	return filter.Continue
}

func (f *downstreamCodecFilter) EncodeTrailers(t *filter.Trailers) filter.Status {
	if !f.chunked {
		return filter.Continue
	}
	if _, err := f.writer.Write([]byte("0\r\n\r\n")); err != nil {
		f.err = err
		return filter.StopIteration
	}
	return filter.Continue
}

// setFramingHeader fixes up the wire-framing header this codec filter
// actually uses: net/http strips the original Transfer-Encoding header
// during parsing (it's carried out-of-band on the *http.Request/Response),
// so forwarding hdrs.Fields as-is would describe no framing at all for a
// re-chunked body.
func setFramingHeader(h *filter.Headers, chunked bool) {
	if chunked {
		h.Set("transfer-encoding", "chunked")
		h.Del("content-length")
	} else {
		h.Del("transfer-encoding")
	}
}

func writeHeaderBlock(buf *bytes.Buffer, h *filter.Headers) {
	for k, vs := range h.Fields {
		ck := http.CanonicalHeaderKey(k)
		for _, v := range vs {
			fmt.Fprintf(buf, "%s: %s\r\n", ck, v)
		}
	}
	buf.WriteString("\r\n")
}

func frameChunk(buf []byte) []byte {
	var out bytes.Buffer
	fmt.Fprintf(&out, "%x\r\n", len(buf))
	out.Write(buf)
	out.WriteString("\r\n")
	return out.Bytes()
}

// pushDecodeData drives one body chunk through the decoder chain, parking
// on the upstream writer's drain signal and replaying via ContinueDecoding
// whenever the codec filter reports StopAllIterationAndWatermark — the
// real use of that status/resume pair (§4.4/§9), not just a unit-test path.
func pushDecodeData(mgr *filter.Manager, usWriter *backpressureWriter, chunk []byte) error {
	status := mgr.DecodeData(chunk, false)
	for status == filter.StopAllIterationAndWatermark || status == filter.StopAllIterationAndBuffer {
		usWriter.waitUntilDrained()
		status = mgr.ContinueDecoding()
	}
	if status == filter.StopIteration {
		return fmt.Errorf("upstream codec filter: write failed")
	}
	return nil
}
