// Package observability implements the Observability Surface (spec
// §4.L): /livez, /readyz, /startupz, /health, /metrics.
package observability

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Surface wires the collaborators needed to answer every observability
// endpoint.
type Surface struct {
	startedAt time.Time
	sup       *supervisor.Supervisor
	breakers  *breaker.Registry
	health    *health.Monitor
	metrics   *metrics.Registry
}

// New builds a Surface. startedAt should be captured once at process
// start and passed in; uptime is measured relative to it.
func New(startedAt time.Time, sup *supervisor.Supervisor, breakers *breaker.Registry, h *health.Monitor, m *metrics.Registry) *Surface {
	return &Surface{startedAt: startedAt, sup: sup, breakers: breakers, health: h, metrics: m}
}

type livezBody struct {
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Livez always reports alive once the process is serving requests.
func (s *Surface) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livezBody{
		Status:        "alive",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PID:           os.Getpid(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	})
}

type readyzBody struct {
	Status string   `json:"status"`
	Checks []string `json:"checks,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// Readyz reports 200 when a table is published, no breaker is OPEN, and
// (if any upstreams are monitored) at least one is healthy.
func (s *Surface) Readyz(w http.ResponseWriter, r *http.Request) {
	var issues []string

	if s.sup.Table() == nil {
		issues = append(issues, "no routing table published")
	}

	openCount := 0
	snaps := s.breakers.Snapshots()
	for _, snap := range snaps {
		if snap.State == breaker.Open {
			openCount++
			issues = append(issues, "circuit breaker open for "+snap.Upstream)
		}
	}

	healthSnap := s.health.Snapshot()
	if len(healthSnap) > 0 {
		anyHealthy := false
		for _, st := range healthSnap {
			if st.Healthy {
				anyHealthy = true
				break
			}
		}
		if !anyHealthy {
			issues = append(issues, "no monitored upstream is healthy")
		}
	}

	if len(issues) == 0 {
		writeJSON(w, http.StatusOK, readyzBody{Status: "ready", Checks: []string{"routing_table", "circuit_breakers", "upstream_health"}})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, readyzBody{Status: "not_ready", Issues: issues})
}

type startupzBody struct {
	Status string `json:"status"`
}

// Startupz reports 200 once the first rebuild attempt has completed,
// regardless of whether it published a table.
func (s *Surface) Startupz(w http.ResponseWriter, r *http.Request) {
	if s.sup.StartupAttempted() {
		writeJSON(w, http.StatusOK, startupzBody{Status: "started"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, startupzBody{Status: "starting"})
}

type healthBody struct {
	Status          string                    `json:"status"`
	Memory          memoryInfo                `json:"memory"`
	CircuitBreakers map[string]string         `json:"circuitBreakers"`
	Upstreams       map[string]health.Status  `json:"upstreams"`
	Node            string                    `json:"node"`
}

type memoryInfo struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
}

// Health reports an aggregate health/diagnostics body: 200 healthy, 503
// degraded if any breaker is OPEN or any monitored upstream is unhealthy.
func (s *Surface) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	breakerStates := make(map[string]string)
	degraded := false
	for _, snap := range s.breakers.Snapshots() {
		breakerStates[snap.Upstream] = snap.State.String()
		if snap.State == breaker.Open {
			degraded = true
		}
	}

	upstreams := s.health.Snapshot()
	for _, st := range upstreams {
		if !st.Healthy {
			degraded = true
		}
	}

	body := healthBody{
		Memory: memoryInfo{
			AllocBytes:      mem.Alloc,
			TotalAllocBytes: mem.TotalAlloc,
			SysBytes:        mem.Sys,
		},
		CircuitBreakers: breakerStates,
		Upstreams:       upstreams,
		Node:            runtime.Version(),
	}

	if degraded {
		body.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body.Status = "healthy"
	writeJSON(w, http.StatusOK, body)
}

// Metrics serves the Prometheus exposition format over this Surface's
// registry.
func (s *Surface) Metrics() http.Handler {
	return promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
