// Package filter implements the §4.4/§9 filter chain: an ordered list of
// filters plus an explicit iteration cursor (an index into a slice, per the
// design note in spec.md §9 rather than a linked list + pointer).
package filter

// Status is the result a filter reports from decode/encode Headers/Data/
// Trailers (§3, §4.4).
type Status int

const (
	Continue Status = iota
	StopIteration
	StopAllIterationAndBuffer
	StopAllIterationAndWatermark
)

// Headers is the minimal parsed-header view the filter chain operates on;
// the HTTP/1.x tokenizer itself is out of scope (spec.md §1) and is assumed
// to have already produced this map plus method/path/host metadata.
type Headers struct {
	Method  string
	Path    string
	Host    string
	Version string
	Fields  map[string][]string
}

func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.Fields[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func (h *Headers) Set(name, value string) {
	if h.Fields == nil {
		h.Fields = make(map[string][]string)
	}
	h.Fields[name] = []string{value}
}

func (h *Headers) Del(name string) {
	delete(h.Fields, name)
}

// Trailers reuses the same representation as Headers.
type Trailers = Headers

// DecoderFilter processes downstream(client)->origin traffic.
type DecoderFilter interface {
	DecodeHeaders(h *Headers, endStream bool) Status
	DecodeData(buf []byte, endStream bool) Status
	DecodeTrailers(t *Trailers) Status
}

// EncoderFilter processes origin->downstream(client) traffic.
type EncoderFilter interface {
	EncodeHeaders(h *Headers, endStream bool) Status
	EncodeData(buf []byte, endStream bool) Status
	EncodeTrailers(t *Trailers) Status
}
