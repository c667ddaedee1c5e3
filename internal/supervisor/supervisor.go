// Package supervisor implements the Router Supervisor (spec §4.I): it
// owns the single atomic RoutingTable pointer, and drives the rebuild
// pipeline (parse -> validate -> clear plugin cache -> materialize
// plugin chains -> reconcile health/breaker lifecycle -> publish).
//
// The atomic-pointer-swap publication model is a teacher-idiomatic
// generalization of Caddy's single-writer/many-reader config
// replacement in caddy.go's Load/unsyncedDecodeAndRun.
package supervisor

import (
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/plugin"
	"github.com/caddyserver/gatewaycore/internal/proxy"
	"github.com/caddyserver/gatewaycore/internal/routeconfig"
	"go.uber.org/zap"
)

// RoutingTable is the immutable, published snapshot request tasks and
// the health supervisor read without locking (spec §3).
type RoutingTable struct {
	Routes []*proxy.RuntimeRoute // sorted longest-prefix-first
}

// Match returns the first route whose PathPrefix is a prefix of path,
// implementing longest-prefix-match via the pre-sorted Routes order.
func (t *RoutingTable) Match(path string) *proxy.RuntimeRoute {
	if t == nil {
		return nil
	}
	for _, r := range t.Routes {
		if pathHasPrefix(path, r.Route.PathPrefix) {
			return r
		}
	}
	return nil
}

func pathHasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

// Supervisor owns the published RoutingTable and the collaborators a
// rebuild must reconcile.
type Supervisor struct {
	table atomic.Pointer[RoutingTable]

	plugins  *plugin.Registry
	breakers *breaker.Registry
	health   *health.Monitor
	log      *zap.Logger

	startupAttempted atomic.Bool
}

// New builds a Supervisor with no published table yet.
func New(plugins *plugin.Registry, breakers *breaker.Registry, h *health.Monitor, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{plugins: plugins, breakers: breakers, health: h, log: log}
}

// Table returns the currently published table, or nil if none has been
// published yet (spec §4.K: "if no table is published yet, 503").
func (s *Supervisor) Table() *RoutingTable {
	return s.table.Load()
}

// StartupAttempted reports whether the first rebuild attempt has
// completed, whether or not it published a table (spec §4.L /startupz).
func (s *Supervisor) StartupAttempted() bool {
	return s.startupAttempted.Load()
}

// Rebuild runs the full pipeline over a freshly read config document. On
// any stage failure, the previous table is retained and the error is
// logged (spec §4.I). The return value is nil only on a successful
// publish.
func (s *Supervisor) Rebuild(data []byte) error {
	defer s.startupAttempted.Store(true)

	doc, err := routeconfig.ParseDocument(data)
	if err != nil {
		s.log.Error("config rebuild failed: malformed document", zap.Error(err))
		return err
	}

	routes, routeErrs := routeconfig.Validate(doc)
	for _, re := range routeErrs {
		s.log.Warn("route rejected during rebuild", zap.Int("index", re.Index), zap.String("prefix", re.Prefix), zap.String("reason", re.Reason))
	}
	if len(routes) == 0 {
		s.log.Error("config rebuild failed: zero valid routes, retaining prior table")
		return routeconfig.ErrNoValidRoutes
	}

	s.plugins.ClearCache()

	liveUpstreams := make(map[string]struct{})
	liveHealthPaths := make(map[string]string)
	runtimeRoutes := make([]*proxy.RuntimeRoute, 0, len(routes))

	for _, route := range routes {
		mws := make([]func(http.Handler) http.Handler, 0, len(route.Plugins))
		for _, ps := range route.Plugins {
			if !ps.Enabled {
				continue
			}
			mw, err := s.plugins.Load(route.PathPrefix, ps.Name, ps.Params)
			if err != nil {
				s.log.Error("config rebuild failed: plugin load failed, retaining prior table", zap.String("route", route.PathPrefix), zap.String("plugin", ps.Name), zap.Error(err))
				return err
			}
			mws = append(mws, mw)
		}

		for _, u := range route.Upstreams {
			liveUpstreams[u] = struct{}{}
			liveHealthPaths[u] = route.HealthProbePath
		}

		runtimeRoutes = append(runtimeRoutes, &proxy.RuntimeRoute{Route: route, Middleware: mws})
	}

	sort.SliceStable(runtimeRoutes, func(i, j int) bool {
		return len(runtimeRoutes[i].Route.PathPrefix) > len(runtimeRoutes[j].Route.PathPrefix)
	})

	s.health.Reconcile(liveHealthPaths)
	s.breakers.Prune(liveUpstreams)

	s.table.Store(&RoutingTable{Routes: runtimeRoutes})

	prefixes := make([]string, 0, len(runtimeRoutes))
	for _, r := range runtimeRoutes {
		prefixes = append(prefixes, r.Route.PathPrefix)
	}
	s.log.Info("routing table published", zap.Int("route_count", len(runtimeRoutes)), zap.Strings("path_prefixes", prefixes))

	return nil
}
