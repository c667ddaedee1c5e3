package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// correlationIDHeaders are checked in order (spec §4.K step 5).
var correlationIDHeaders = []string{"x-request-id", "x-correlation-id", "x-trace-id"}

const maxCorrelationIDLen = 128

// correlationIDMiddleware takes the first non-empty trimmed header value
// from correlationIDHeaders (length <=128), else generates a fresh UUID,
// and echoes it back as X-Request-ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := extractCorrelationID(r.Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r.Header.Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func extractCorrelationID(h http.Header) string {
	for _, name := range correlationIDHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v != "" && len(v) <= maxCorrelationIDLen {
			return v
		}
	}
	return ""
}
