package server

import (
	"net/http"
	"time"

	"github.com/caddyserver/gatewaycore/internal/metrics"
)

// statusCapturingWriter records the first WriteHeader call so middleware
// further up the chain (metrics, logging) can observe the final status.
type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusCapturingWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapturingWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// routeLabeler resolves the label to record for a request's "route",
// here the longest-prefix-matched route, or "unmatched" if none.
type routeLabeler func(r *http.Request) string

// metricsMiddleware implements spec §4.K step 8.
func metricsMiddleware(reg *metrics.Registry, routeLabel routeLabeler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			method := metrics.SanitizeMethod(r.Method)
			route := routeLabel(r)
			code := metrics.SanitizeCode(status)

			reg.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
			reg.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())

			if status >= 400 {
				errType := "client_error"
				if status >= 500 {
					errType = "server_error"
				}
				reg.HTTPRequestErrorsTotal.WithLabelValues(method, route, errType).Inc()
			}
		})
	}
}
