// Package metrics declares the Prometheus collectors exposed at /metrics
// (spec §4.L) plus small label-sanitizing helpers used by the server
// frontend when recording per-request metrics. The collector shape — a
// struct of promauto-constructed vectors built once at process start — is
// adapted from Caddy's metrics.go; the label sanitizers below are adapted
// from this same file in the teacher (SanitizeCode/SanitizeMethod), kept to
// bound metric cardinality on the method label.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Registry holds every collector the gateway publishes. One Registry is
// constructed per Engine instance (never a package-level global) so that
// multiple engines in one process — e.g. in tests — don't collide on
// prometheus.DefaultRegisterer.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestErrorsTotal *prometheus.CounterVec

	UpstreamRequestsTotal    *prometheus.CounterVec
	UpstreamRequestDuration  *prometheus.HistogramVec
	CircuitBreakerState      *prometheus.GaugeVec
	UpstreamHealthy          *prometheus.GaugeVec
	RateLimitRejectionsTotal *prometheus.CounterVec
}

// New builds and registers every collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{reg: reg}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	factory := promauto.With(reg)

	r.HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Count of completed client requests.",
	}, []string{"method", "route", "status_code"})

	r.HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Client-observed request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status_code"})

	r.HTTPRequestErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Count of requests that completed with a 4xx or 5xx status.",
	}, []string{"method", "route", "error_type"})

	r.UpstreamRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Count of requests forwarded to an upstream.",
	}, []string{"upstream", "status_code"})

	r.UpstreamRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream-observed forward latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"upstream"})

	r.CircuitBreakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "0=closed, 1=open, 2=half_open.",
	}, []string{"upstream"})

	r.UpstreamHealthy = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_healthy",
		Help:      "1 if the upstream's last debounced health state is healthy, else 0.",
	}, []string{"upstream"})

	r.RateLimitRejectionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Count of requests rejected with 429.",
	}, []string{"profile"})

	return r
}

// Gatherer exposes the underlying registry to the promhttp handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// SanitizeCode normalizes a response status code for use as a metric label.
func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes the method for use as a metric label. This helps
// prevent high cardinality on the method label. The name is always upper
// case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}
	return "OTHER"
}
