package streaminfo

// ResponseFlags is the §7 error taxonomy, modeled as a bitset so a single
// StreamInfo can carry more than one flag (e.g. a pending-timeout that also
// marks the retry-limit flag).
type ResponseFlags uint32

const (
	NoHealthyUpstream ResponseFlags = 1 << iota
	UpstreamRequestTimeout
	UpstreamConnectionFailure
	UpstreamConnectionTermination
	UpstreamOverflow
	NoRouteFound
	UpstreamRetryLimitExceeded
	DownstreamConnectionTermination
	StreamIdleTimeout
	DownstreamProtocolError
	UpstreamProtocolError
	DurationTimeout
	LocalReset
	UpstreamRemoteReset
)

var names = map[ResponseFlags]string{
	NoHealthyUpstream:                "NoHealthyUpstream",
	UpstreamRequestTimeout:           "UpstreamRequestTimeout",
	UpstreamConnectionFailure:        "UpstreamConnectionFailure",
	UpstreamConnectionTermination:    "UpstreamConnectionTermination",
	UpstreamOverflow:                 "UpstreamOverflow",
	NoRouteFound:                     "NoRouteFound",
	UpstreamRetryLimitExceeded:       "UpstreamRetryLimitExceeded",
	DownstreamConnectionTermination:  "DownstreamConnectionTermination",
	StreamIdleTimeout:                "StreamIdleTimeout",
	DownstreamProtocolError:          "DownstreamProtocolError",
	UpstreamProtocolError:            "UpstreamProtocolError",
	DurationTimeout:                  "DurationTimeout",
	LocalReset:                       "LocalReset",
	UpstreamRemoteReset:              "UpstreamRemoteReset",
}

func (f *ResponseFlags) Set(flag ResponseFlags)      { *f |= flag }
func (f ResponseFlags) Has(flag ResponseFlags) bool  { return f&flag != 0 }

func (f ResponseFlags) Strings() []string {
	var out []string
	for flag, name := range names {
		if f.Has(flag) {
			out = append(out, name)
		}
	}
	return out
}
