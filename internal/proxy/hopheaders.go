package proxy

import "net/http"

// hopByHopHeaders are stripped before forwarding to an upstream, and
// again before relaying the upstream's response to the client (spec
// §4.H step 3).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	for key := range h {
		if len(key) >= 6 && equalFoldASCII(key[:6], "Proxy-") {
			h.Del(key)
		}
	}
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
