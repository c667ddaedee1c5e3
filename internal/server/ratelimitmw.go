package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/ratelimit"
)

type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// rateLimitMiddleware implements spec §4.K step 6 / §4.F: skips
// observability paths unconditionally, otherwise checks the strict-profile
// limiter for any request whose path starts with one of strictPrefixes and
// the default-profile limiter for everything else.
func rateLimitMiddleware(limiter, strictLimiter *ratelimit.Limiter, strictPrefixes []string, reg *metrics.Registry, trustProxy bool, keyFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, exempt := ratelimit.ObservabilityPaths[r.URL.Path]; exempt {
				next.ServeHTTP(w, r)
				return
			}

			active := limiter
			if strictLimiter != nil {
				for _, prefix := range strictPrefixes {
					if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
						active = strictLimiter
						break
					}
				}
			}

			key := keyFn(r)
			decision, err := active.Check(r.Context(), key)
			if err != nil {
				// a rate limiter failure must not block traffic.
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				if reg != nil {
					reg.RateLimitRejectionsTotal.WithLabelValues(active.ProfileName()).Inc()
				}
				retryAfterSeconds := int(decision.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rateLimitBody{
					Error:      "Too Many Requests",
					Message:    "rate limit exceeded",
					RetryAfter: retryAfterSeconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
