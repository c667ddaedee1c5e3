// Package routeconfig implements the Config Store (spec §4.A): it decodes
// the gateway's YAML route document and validates it into a Route list,
// or a fatal document-level error if zero routes survive validation.
//
// The two-phase raw-document/validated-model split is grounded on Caddy's
// own config lifecycle (caddy.go's Load/Run split a raw JSON document from
// the provisioned, in-memory Config); the document format itself is YAML
// (gopkg.in/yaml.v3, a teacher dependency) rather than Caddy's native JSON,
// per spec §6.
package routeconfig

import "time"

// LBStrategy names a load-balancer selection function (spec §4.D).
type LBStrategy string

const (
	StrategyRoundRobin  LBStrategy = "round_robin"
	StrategyRandom      LBStrategy = "random"
	StrategyHealthAware LBStrategy = "health_aware"
)

// PluginSpec is one entry of a route's ordered plugin chain.
type PluginSpec struct {
	Name    string
	Enabled bool
	Params  map[string]any
}

// Route is the validated, immutable description of one path prefix's
// handling rules (spec §3). Once built by routeconfig.Validate, a Route is
// never mutated; the Router Supervisor replaces the whole RoutingTable to
// change anything.
type Route struct {
	PathPrefix       string
	Upstreams        []string
	HealthProbePath  string
	RequestTimeout   time.Duration
	RetryEnabled     bool
	MaxRetries       int
	LBStrategy       LBStrategy
	Plugins          []PluginSpec
}

// Document is the top-level decoded YAML shape (spec §6).
type Document struct {
	Version string         `yaml:"version"`
	Routes  []rawRouteYAML `yaml:"routes"`
}

// rawRouteYAML mirrors one route object in the YAML document before
// validation/coercion. Upstreams is deliberately `any` because the spec
// allows either a bare string or a sequence of strings (spec §4.A/§4.D).
type rawRouteYAML struct {
	PathPrefix      string         `yaml:"path_prefix"`
	Upstreams       any            `yaml:"upstreams"`
	HealthProbePath string         `yaml:"health_probe_path"`
	RequestTimeout  string         `yaml:"request_timeout"`
	RetryEnabled    *bool          `yaml:"retry_enabled"`
	MaxRetries      *int           `yaml:"max_retries"`
	LBStrategy      string         `yaml:"lb_strategy"`
	Plugins         []rawPluginYAML `yaml:"plugins"`
}

type rawPluginYAML struct {
	Name    string         `yaml:"name"`
	Enabled *bool          `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// Defaults used when a route omits an optional field (spec §3).
const (
	DefaultHealthProbePath = "/health"
	DefaultMaxRetries      = 3
	DefaultLBStrategy      = StrategyHealthAware
)
