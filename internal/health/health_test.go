package health

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Interval:           5 * time.Millisecond,
		Timeout:            50 * time.Millisecond,
		HealthyThreshold:   2,
		UnhealthyThreshold: 2,
	}
}

func TestMonitor_NewUpstreamStartsOptimisticallyHealthy(t *testing.T) {
	m := New(fastConfig(), nil, nil)
	m.Start("http://unused.invalid", "/health")
	require.True(t, m.IsHealthy("http://unused.invalid"))
	m.Stop("http://unused.invalid")
}

func TestMonitor_StartTwiceIsNoop(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New(fastConfig(), nil, nil)
	m.Start(srv.URL, "/")
	first := m.probes[srv.URL]
	m.Start(srv.URL, "/")

	time.Sleep(60 * time.Millisecond)

	// A second Start for an upstream that is already probed must keep the
	// original probe rather than replace it with a second one.
	require.Same(t, first, m.probes[srv.URL])
	m.Stop(srv.URL)
}

func TestMonitor_DebouncedUnhealthyTransition(t *testing.T) {
	var failing bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		f := failing
		mu.Unlock()
		if f {
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	var transitions []bool
	var tmu sync.Mutex
	m := New(fastConfig(), nil, func(upstream string, healthy bool) {
		tmu.Lock()
		transitions = append(transitions, healthy)
		tmu.Unlock()
	})
	m.Start(srv.URL, "/")
	defer m.Stop(srv.URL)

	require.True(t, m.IsHealthy(srv.URL))

	mu.Lock()
	failing = true
	mu.Unlock()

	require.Eventually(t, func() bool {
		return !m.IsHealthy(srv.URL)
	}, 500*time.Millisecond, 5*time.Millisecond)

	tmu.Lock()
	require.Contains(t, transitions, false)
	tmu.Unlock()
}

func TestMonitor_ReconcileStartsAndStops(t *testing.T) {
	m := New(fastConfig(), nil, nil)
	m.Reconcile(map[string]string{"http://a.invalid": "/health"})
	require.True(t, m.IsHealthy("http://a.invalid"))

	m.Reconcile(map[string]string{"http://b.invalid": "/health"})
	snap := m.Snapshot()
	_, aStillTracked := snap["http://a.invalid"]
	require.False(t, aStillTracked)
	_, bTracked := snap["http://b.invalid"]
	require.True(t, bTracked)
}

func TestMonitor_UnknownUpstreamReportsHealthy(t *testing.T) {
	m := New(fastConfig(), nil, nil)
	require.True(t, m.IsHealthy("http://never-started.invalid"))
}
