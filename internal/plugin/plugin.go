// Package plugin implements the Plugin Host (spec §4.G): middleware
// loaded by name from a fixed, compile-time set of factories (no dynamic
// .so loading — per the Design Note's "no process-wide globals"
// directive, the registry is engine-instance-owned, generalized from
// Caddy's RegisterModule/modules.go package-global pattern in
// modules.go to an instance method set).
package plugin

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Middleware wraps an http.Handler, the same contract Caddy's
// MiddlewareHandler chain uses (grounded on caddyhttp.go).
type Middleware func(next http.Handler) http.Handler

// Factory builds a Middleware from route-supplied params. Returning a
// nil Middleware with a nil error is treated as a load error (spec
// §4.G: "a factory that returns non-callable ... is a load error").
type Factory func(params map[string]any) (Middleware, error)

// Registry is the engine-owned set of known plugin factories plus the
// per-route instance cache the Router Supervisor invalidates on every
// rebuild.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     map[string]Middleware
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[string]Middleware),
	}
}

// Register adds a named factory, typically called once at engine
// construction for every compiled-in plugin (the auth plugin, and any
// others added later).
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// ValidateName enforces spec §4.G's path-traversal guard: empty names
// and any name containing "..", "/", or "\" are rejected.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("plugin name %q must not contain path separators or '..'", name)
	}
	return nil
}

// cacheKey identifies one (name, route) instantiation. Params are part
// of route identity already (baked into the route at build time), so
// the cache is keyed by name+route path, matching spec §4.G's "resolved
// path" cache-key concept adapted from a filesystem path to a
// compile-time registry entry.
func cacheKey(routePathPrefix, name string) string {
	return routePathPrefix + "\x00" + name
}

// Load returns the cached Middleware for (routePathPrefix, name, params)
// if present, else builds it via the registered factory and caches it.
func (r *Registry) Load(routePathPrefix, name string, params map[string]any) (Middleware, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	key := cacheKey(routePathPrefix, name)

	r.mu.RLock()
	if mw, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return mw, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if mw, ok := r.cache[key]; ok {
		return mw, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", name)
	}
	mw, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("loading plugin %q: %w", name, err)
	}
	if mw == nil {
		return nil, fmt.Errorf("plugin %q factory returned a nil middleware", name)
	}

	r.cache[key] = mw
	return mw, nil
}

// ClearCache invalidates every cached instance. The Router Supervisor
// calls this before every rebuild (spec §4.G: "clear_cache() invalidates
// every entry ... invoked by the Router Supervisor before every
// rebuild"). Since this registry holds no filesystem-resolved paths (all
// plugins are compile-time factories), every entry qualifies.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Middleware)
}

// Chain composes middlewares in order, outermost first, so mws[0] runs
// first and can short-circuit before mws[1] runs.
func Chain(mws []Middleware, final http.Handler) http.Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
