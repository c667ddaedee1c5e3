package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/routeconfig"
	"github.com/stretchr/testify/require"
)

func newTestPipeline() *Pipeline {
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	h := health.New(health.DefaultConfig(), nil, nil)
	m := metrics.New()
	return New(&http.Client{}, breakers, h, m, nil)
}

func TestPipeline_ForwardsAndStripsPrefix(t *testing.T) {
	var seenPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	p := newTestPipeline()
	rr := &RuntimeRoute{Route: routeconfig.Route{
		PathPrefix:     "/api",
		Upstreams:      []string{upstream.URL},
		RequestTimeout: time.Second,
		LBStrategy:     routeconfig.StrategyRoundRobin,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	p.Serve(rec, req, rr, "1.2.3.4:5678")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/widgets", seenPath)
	require.Equal(t, "ok", rec.Body.String())
}

func TestPipeline_RetriesOnFailureThenSucceeds(t *testing.T) {
	badUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badUpstream.Close()
	goodUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer goodUpstream.Close()

	p := newTestPipeline()
	rr := &RuntimeRoute{Route: routeconfig.Route{
		PathPrefix:     "/api",
		Upstreams:      []string{badUpstream.URL, goodUpstream.URL},
		RequestTimeout: 2 * time.Second,
		RetryEnabled:   true,
		MaxRetries:     2,
		LBStrategy:     routeconfig.StrategyRoundRobin,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	rec := httptest.NewRecorder()
	p.Serve(rec, req, rr, "")

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_NoRetriesWritesBadGateway(t *testing.T) {
	badUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badUpstream.Close()

	p := newTestPipeline()
	rr := &RuntimeRoute{Route: routeconfig.Route{
		PathPrefix:     "/api",
		Upstreams:      []string{badUpstream.URL},
		RequestTimeout: time.Second,
		RetryEnabled:   false,
		LBStrategy:     routeconfig.StrategyRoundRobin,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	rec := httptest.NewRecorder()
	p.Serve(rec, req, rr, "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "Bad Gateway")
}

func TestPipeline_PluginShortCircuitStopsForwarding(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := newTestPipeline()
	rr := &RuntimeRoute{
		Route: routeconfig.Route{
			PathPrefix:     "/api",
			Upstreams:      []string{upstream.URL},
			RequestTimeout: time.Second,
			LBStrategy:     routeconfig.StrategyRoundRobin,
		},
		Middleware: []func(http.Handler) http.Handler{
			func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusForbidden)
				})
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	rec := httptest.NewRecorder()
	p.Serve(rec, req, rr, "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, called)
}
