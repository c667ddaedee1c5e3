// Package health implements the Health Monitor (spec §4.C): one
// independent periodic probe goroutine per upstream, debounced into
// healthy/unhealthy transitions, diffed against the routing table on
// every Router Supervisor rebuild.
//
// The per-module goroutine-plus-context-cancellation shape is grounded
// on the teacher's Provision/Cleanup lifecycle in context.go; the
// status-provider surface consumed by the Observability Surface is
// grounded on other_examples/.../lyrebirdaudio/health.go.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a point-in-time snapshot of one upstream's health.
type Status struct {
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheckAt          time.Time
}

// Config parameterizes every probe started by a Monitor.
type Config struct {
	Interval           time.Duration // default 30s
	Timeout            time.Duration // default 5s
	HealthyThreshold   int           // consecutive successes required to flip unhealthy->healthy
	UnhealthyThreshold int           // consecutive failures required to flip healthy->unhealthy
}

// DefaultConfig returns spec §4.C's stated defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Second,
		Timeout:            5 * time.Second,
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
	}
}

// TransitionObserver is notified whenever an upstream flips healthy<->unhealthy.
type TransitionObserver func(upstream string, healthy bool)

type probe struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// Monitor owns one probe goroutine per upstream. The zero value is not
// usable; construct with New.
type Monitor struct {
	cfg      Config
	client   *http.Client
	log      *zap.Logger
	observer TransitionObserver

	mu     sync.Mutex
	probes map[string]*probe
}

// New builds a Monitor. log and observer may be nil.
func New(cfg Config, log *zap.Logger, observer TransitionObserver) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
		observer: observer,
		probes:   make(map[string]*probe),
	}
}

// Start begins probing origin+healthProbePath if it isn't already being
// probed (spec §4.C: "starting twice is a no-op"). New upstreams start
// optimistically healthy.
func (m *Monitor) Start(origin, healthProbePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.probes[origin]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &probe{
		status: Status{Healthy: true, LastCheckAt: time.Time{}},
		cancel: cancel,
	}
	m.probes[origin] = p

	url := origin + healthProbePath
	go m.run(ctx, origin, url, p)
}

// Stop cancels the probe for origin and discards its status (spec §3:
// "when an upstream disappears from a rebuild, monitoring stops and its
// state is discarded").
func (m *Monitor) Stop(origin string) {
	m.mu.Lock()
	p, ok := m.probes[origin]
	if ok {
		delete(m.probes, origin)
	}
	m.mu.Unlock()

	if ok {
		p.cancel()
	}
}

// Reconcile diffs the live upstream set (origin -> health probe path)
// against what's currently being probed: starts the new arrivals,
// stops the departures. This is the hook the Router Supervisor calls on
// every successful rebuild.
func (m *Monitor) Reconcile(live map[string]string) {
	m.mu.Lock()
	var toStop []string
	for origin := range m.probes {
		if _, ok := live[origin]; !ok {
			toStop = append(toStop, origin)
		}
	}
	m.mu.Unlock()

	for _, origin := range toStop {
		m.Stop(origin)
	}
	for origin, path := range live {
		m.Start(origin, path)
	}
}

// IsHealthy reports the current health of origin. Unknown upstreams
// (never started) are reported healthy, matching the optimistic default.
func (m *Monitor) IsHealthy(origin string) bool {
	m.mu.Lock()
	p, ok := m.probes[origin]
	m.mu.Unlock()
	if !ok {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.Healthy
}

// Snapshot returns every tracked upstream's current Status, for the
// Observability Surface.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.Lock()
	probes := make(map[string]*probe, len(m.probes))
	for origin, p := range m.probes {
		probes[origin] = p
	}
	m.mu.Unlock()

	out := make(map[string]Status, len(probes))
	for origin, p := range probes {
		p.mu.Lock()
		out[origin] = p.status
		p.mu.Unlock()
	}
	return out
}

func (m *Monitor) run(ctx context.Context, origin, url string, p *probe) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, origin, url, p)
		}
	}
}

func (m *Monitor) check(ctx context.Context, origin, url string, p *probe) {
	ok := m.probeOnce(ctx, url)

	p.mu.Lock()
	p.status.LastCheckAt = time.Now()
	wasHealthy := p.status.Healthy
	if ok {
		p.status.ConsecutiveSuccesses++
		p.status.ConsecutiveFailures = 0
		if !p.status.Healthy && p.status.ConsecutiveSuccesses >= m.cfg.HealthyThreshold {
			p.status.Healthy = true
		}
	} else {
		p.status.ConsecutiveFailures++
		p.status.ConsecutiveSuccesses = 0
		if p.status.Healthy && p.status.ConsecutiveFailures >= m.cfg.UnhealthyThreshold {
			p.status.Healthy = false
		}
	}
	nowHealthy := p.status.Healthy
	p.mu.Unlock()

	if wasHealthy != nowHealthy {
		m.log.Warn("upstream health transition", zap.String("upstream", origin), zap.Bool("healthy", nowHealthy))
		if m.observer != nil {
			m.observer(origin, nowHealthy)
		}
	}
}

// probeOnce issues the GET and classifies the result per spec §4.C: 2xx,
// 3xx, or 4xx count as success; 5xx or any transport error is a failure.
func (m *Monitor) probeOnce(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
