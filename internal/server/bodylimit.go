package server

import "net/http"

// DefaultBodyLimitBytes is spec §6's stated default (10 MiB).
const DefaultBodyLimitBytes = 10 * 1024 * 1024

// bodyLimitMiddleware enforces a request body size cap (spec §4.K step
// 4): a request whose declared Content-Length exceeds the cap gets 413.
// A body without a declared length is wrapped in http.MaxBytesReader,
// which fails the first read past the cap; that read error goes to
// whichever handler reads the body and is not turned into a 413 here.
func bodyLimitMiddleware(limitBytes int64) func(http.Handler) http.Handler {
	if limitBytes <= 0 {
		limitBytes = DefaultBodyLimitBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limitBytes {
				http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
