package breaker

import "sync"

// Registry owns one Breaker per upstream URL, created lazily and kept
// across Router Supervisor rebuilds so a breaker's rolling window and
// open/closed state survive a routing-table reload for upstreams that
// are still referenced (spec §4.F: "the breaker and health state for an
// upstream persist across a config rebuild as long as that upstream URL
// still appears in the new table").
type Registry struct {
	mu           sync.Mutex
	cfg          Config
	onTransition TransitionObserver
	breakers     map[string]*Breaker
}

// NewRegistry builds an empty Registry. cfg is applied to every breaker
// it creates; onTransition (may be nil) is wired to every breaker so the
// Observability Surface and gwlog can react to state changes.
func NewRegistry(cfg Config, onTransition TransitionObserver) *Registry {
	return &Registry{
		cfg:          cfg,
		onTransition: onTransition,
		breakers:     make(map[string]*Breaker),
	}
}

// Get returns the Breaker for upstream, creating it (CLOSED) on first use.
func (r *Registry) Get(upstream string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[upstream]; ok {
		return b
	}
	b := New(upstream, r.cfg, r.onTransition)
	r.breakers[upstream] = b
	return b
}

// Prune drops breakers for upstreams no longer present in live, the set
// of upstream URLs referenced by the freshly rebuilt routing table. This
// is how a Router Supervisor rebuild releases state for upstreams that
// were removed from configuration entirely.
func (r *Registry) Prune(live map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for upstream := range r.breakers {
		if _, ok := live[upstream]; !ok {
			delete(r.breakers, upstream)
		}
	}
}

// Snapshots returns a point-in-time view of every tracked breaker, for
// the /health and /metrics endpoints.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	upstreams := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		upstreams = append(upstreams, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(upstreams))
	for _, b := range upstreams {
		out = append(out, b.Snapshot())
	}
	return out
}
