package filter

// Manager holds one direction's ordered filter list plus its iteration
// cursor. StopIteration means "do not advance"; a later call to
// ContinueDecoding resumes from the saved index (§9). When a callback
// fully traverses every filter (cursor reaches the end), the cursor resets
// to 0 so the next headers/data/trailers event starts a fresh pass over
// every filter, the way each streamed body chunk is re-offered to the
// whole chain.
type Manager struct {
	decoders []DecoderFilter
	encoders []EncoderFilter

	decodeCursor int
	encodeCursor int

	buffered        [][]byte // data buffered while StopAllIterationAndBuffer holds
	onWatermark     func(raised bool)
	watermarkRaised bool
}

func NewManager(decoders []DecoderFilter, encoders []EncoderFilter, onWatermark func(raised bool)) *Manager {
	return &Manager{decoders: decoders, encoders: encoders, onWatermark: onWatermark}
}

func (m *Manager) DecodeHeaders(h *Headers, endStream bool) Status {
	m.decodeCursor = 0
	return m.runDecode(func(f DecoderFilter) Status { return f.DecodeHeaders(h, endStream) }, nil)
}

// DecodeData pushes buf through the chain starting at the saved cursor; if
// a prior StopAllIterationAndBuffer is in effect it is appended to the
// buffer rather than dropped (I7: no suspended filter silently drops data).
func (m *Manager) DecodeData(buf []byte, endStream bool) Status {
	return m.runDecode(func(f DecoderFilter) Status { return f.DecodeData(buf, endStream) }, buf)
}

func (m *Manager) DecodeTrailers(t *Trailers) Status {
	return m.runDecode(func(f DecoderFilter) Status { return f.DecodeTrailers(t) }, nil)
}

func (m *Manager) runDecode(call func(DecoderFilter) Status, bufForBuffering []byte) Status {
	for m.decodeCursor < len(m.decoders) {
		status := call(m.decoders[m.decodeCursor])
		switch status {
		case Continue:
			m.decodeCursor++
			continue
		case StopIteration:
			return status
		case StopAllIterationAndBuffer:
			if bufForBuffering != nil {
				m.buffered = append(m.buffered, append([]byte(nil), bufForBuffering...))
			}
			return status
		case StopAllIterationAndWatermark:
			if bufForBuffering != nil {
				m.buffered = append(m.buffered, append([]byte(nil), bufForBuffering...))
			}
			m.raiseWatermark()
			return status
		}
	}
	m.decodeCursor = 0 // full pass complete; next event starts fresh
	return Continue
}

// ContinueDecoding resumes the decoder chain from the saved cursor: any
// buffered data is re-offered to the filter that paused and then to the
// filters after it.
func (m *Manager) ContinueDecoding() Status {
	m.lowerWatermark()
	buffered := m.buffered
	m.buffered = nil
	for _, b := range buffered {
		if status := m.DecodeData(b, false); status != Continue {
			return status
		}
	}
	return Continue
}

func (m *Manager) raiseWatermark() {
	if !m.watermarkRaised {
		m.watermarkRaised = true
		if m.onWatermark != nil {
			m.onWatermark(true)
		}
	}
}

func (m *Manager) lowerWatermark() {
	if m.watermarkRaised {
		m.watermarkRaised = false
		if m.onWatermark != nil {
			m.onWatermark(false)
		}
	}
}

// EncodeHeaders/EncodeData/EncodeTrailers mirror the decoder side for the
// response direction.
func (m *Manager) EncodeHeaders(h *Headers, endStream bool) Status {
	m.encodeCursor = 0
	return m.runEncode(func(f EncoderFilter) Status { return f.EncodeHeaders(h, endStream) })
}

func (m *Manager) EncodeData(buf []byte, endStream bool) Status {
	return m.runEncode(func(f EncoderFilter) Status { return f.EncodeData(buf, endStream) })
}

func (m *Manager) EncodeTrailers(t *Trailers) Status {
	return m.runEncode(func(f EncoderFilter) Status { return f.EncodeTrailers(t) })
}

func (m *Manager) runEncode(call func(EncoderFilter) Status) Status {
	for m.encodeCursor < len(m.encoders) {
		status := call(m.encoders[m.encodeCursor])
		if status == Continue {
			m.encodeCursor++
			continue
		}
		return status
	}
	m.encodeCursor = 0
	return Continue
}
