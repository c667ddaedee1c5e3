// Package server implements the Server Frontend (spec §4.K): the fixed,
// load-bearing global middleware chain plus dispatch to the static
// observability endpoint set or, on longest-prefix match, into the Proxy
// Pipeline.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/observability"
	"github.com/caddyserver/gatewaycore/internal/proxy"
	"github.com/caddyserver/gatewaycore/internal/ratelimit"
	"github.com/caddyserver/gatewaycore/internal/supervisor"
	"go.uber.org/zap"
)

// Config collects every tunable the global middleware chain needs.
type Config struct {
	CORS                 CORSConfig
	CompressionThreshold int
	BodyLimitBytes       int64
	RequestDeadline      time.Duration
	TrustProxy           bool

	// StrictRateLimitPrefixes names path prefixes that fall under the
	// "strict" rate-limit profile (spec §4.F: "a 'strict' profile defaults
	// to 10/60s for sensitive endpoints") instead of the default profile.
	StrictRateLimitPrefixes []string
}

// Frontend is the http.Handler the engine binds to its listener.
type Frontend struct {
	cfg           Config
	sup           *supervisor.Supervisor
	pipe          *proxy.Pipeline
	limiter       *ratelimit.Limiter
	strictLimiter *ratelimit.Limiter
	surface       *observability.Surface
	metricsReg    *metrics.Registry
	log           *zap.Logger

	handler http.Handler
}

// New assembles the fixed middleware chain (spec §4.K: "order is
// load-bearing") around the route-dispatch handler. strictLimiter may be
// nil, in which case every request uses limiter regardless of
// cfg.StrictRateLimitPrefixes.
func New(cfg Config, sup *supervisor.Supervisor, pipe *proxy.Pipeline, limiter, strictLimiter *ratelimit.Limiter, surface *observability.Surface, metricsReg *metrics.Registry, log *zap.Logger) *Frontend {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Frontend{cfg: cfg, sup: sup, pipe: pipe, limiter: limiter, strictLimiter: strictLimiter, surface: surface, metricsReg: metricsReg, log: log}
	f.handler = f.buildChain()
	return f
}

func (f *Frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.handler.ServeHTTP(w, r)
}

func (f *Frontend) buildChain() http.Handler {
	dispatch := http.HandlerFunc(f.dispatch)

	keyFn := func(r *http.Request) string {
		peer := peerAddress(r)
		return ratelimit.DeriveKey(f.cfg.TrustProxy, r.Header.Get("X-Forwarded-For"), peer)
	}

	routeLabel := func(r *http.Request) string {
		table := f.sup.Table()
		if table == nil {
			return "unmatched"
		}
		if route := table.Match(r.URL.Path); route != nil {
			return route.Route.PathPrefix
		}
		return "unmatched"
	}

	chain := []func(http.Handler) http.Handler{
		securityHeadersMiddleware,
		corsMiddleware(f.cfg.CORS),
		compressionMiddleware(f.cfg.CompressionThreshold),
		bodyLimitMiddleware(f.cfg.BodyLimitBytes),
		correlationIDMiddleware,
		rateLimitMiddleware(f.limiter, f.strictLimiter, f.cfg.StrictRateLimitPrefixes, f.metricsReg, f.cfg.TrustProxy, keyFn),
		deadlineMiddleware(deadlineOrDefault(f.cfg.RequestDeadline)),
		metricsMiddleware(f.metricsReg, routeLabel),
		loggingMiddleware(f.log),
	}

	h := http.Handler(dispatch)
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

func deadlineOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// dispatch implements the priority order from spec §4.K's final
// paragraph: the static observability set first, then the published
// routing table, in longest-prefix order.
func (f *Frontend) dispatch(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/livez":
		f.surface.Livez(w, r)
		return
	case "/readyz":
		f.surface.Readyz(w, r)
		return
	case "/startupz":
		f.surface.Startupz(w, r)
		return
	case "/health":
		f.surface.Health(w, r)
		return
	case "/metrics":
		f.surface.Metrics().ServeHTTP(w, r)
		return
	}

	table := f.sup.Table()
	if table == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Gateway not configured", "no routing table has been published yet")
		return
	}

	route := table.Match(r.URL.Path)
	if route == nil {
		writeJSONError(w, http.StatusNotFound, "Not Found", "no route matches "+r.URL.Path)
		return
	}

	f.pipe.Serve(w, r, route, peerAddress(r))
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeJSONError(w http.ResponseWriter, status int, errName, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errName, Message: message, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func peerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
