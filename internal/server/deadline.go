package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type deadlineResponseBody struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// deadlineMiddleware implements spec §4.K step 7: a per-request deadline
// guard that, if hit before the response is sent, responds 504, and then
// closes the connection when the writer it was handed supports
// http.Hijacker (a writer that does not, such as the compression
// wrapper, leaves the connection open).
func deadlineMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &trackingResponseWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if !tw.started() {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					_ = json.NewEncoder(w).Encode(deadlineResponseBody{Error: "Gateway Timeout", Timestamp: time.Now().UTC().Format(time.RFC3339)})
				}
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						_ = conn.Close()
					}
				}
			}
		})
	}
}

type trackingResponseWriter struct {
	http.ResponseWriter
	wroteAny bool
}

func (t *trackingResponseWriter) WriteHeader(statusCode int) {
	t.wroteAny = true
	t.ResponseWriter.WriteHeader(statusCode)
}

func (t *trackingResponseWriter) Write(b []byte) (int, error) {
	t.wroteAny = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingResponseWriter) started() bool { return t.wroteAny }
