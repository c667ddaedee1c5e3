package routeconfig

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseDocument decodes raw YAML bytes into a Document. A malformed
// document is a fatal error (spec §4.A: "Produces a Route sequence or a
// fatal validation error").
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config document: %w", err)
	}
	return &doc, nil
}

// RouteError describes why a single route was rejected. It never aborts
// the whole document (spec §4.A: "other routes are still published").
type RouteError struct {
	Index  int
	Prefix string
	Reason string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route[%d] %q: %s", e.Index, e.Prefix, e.Reason)
}

// ErrNoValidRoutes is returned when every route in the document failed
// validation, signaling the caller to retain the prior table (spec §4.A).
var ErrNoValidRoutes = fmt.Errorf("config document has zero valid routes")

// Validate coerces and validates every route in doc, returning the routes
// that passed plus one *RouteError per rejected route. If the returned
// route slice is empty, the caller should treat this as ErrNoValidRoutes.
func Validate(doc *Document) ([]Route, []*RouteError) {
	var routes []Route
	var errs []*RouteError

	for i, raw := range doc.Routes {
		route, err := validateOne(raw)
		if err != nil {
			errs = append(errs, &RouteError{Index: i, Prefix: raw.PathPrefix, Reason: err.Error()})
			continue
		}
		routes = append(routes, *route)
	}

	return routes, errs
}

func validateOne(raw rawRouteYAML) (*Route, error) {
	if raw.PathPrefix == "" {
		return nil, fmt.Errorf("path_prefix is required")
	}

	upstreams := coerceUpstreams(raw.Upstreams)
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("upstreams must be a non-empty string or list of absolute URLs")
	}
	for _, u := range upstreams {
		if err := validateUpstreamURL(u); err != nil {
			return nil, fmt.Errorf("invalid upstream %q: %w", u, err)
		}
	}

	healthPath := raw.HealthProbePath
	if healthPath == "" {
		healthPath = DefaultHealthProbePath
	}

	timeout, err := coerceTimeout(raw.RequestTimeout)
	if err != nil {
		return nil, err
	}

	retryEnabled := true
	if raw.RetryEnabled != nil {
		retryEnabled = *raw.RetryEnabled
	}

	maxRetries := DefaultMaxRetries
	if raw.MaxRetries != nil {
		if *raw.MaxRetries < 0 {
			return nil, fmt.Errorf("max_retries must be non-negative, got %d", *raw.MaxRetries)
		}
		maxRetries = *raw.MaxRetries
	}

	strategy := DefaultLBStrategy
	if raw.LBStrategy != "" {
		strategy = LBStrategy(raw.LBStrategy)
		switch strategy {
		case StrategyRoundRobin, StrategyRandom, StrategyHealthAware:
		default:
			return nil, fmt.Errorf("unknown lb_strategy %q", raw.LBStrategy)
		}
	}

	plugins := make([]PluginSpec, 0, len(raw.Plugins))
	for _, p := range raw.Plugins {
		if p.Name == "" {
			return nil, fmt.Errorf("plugin entry missing name")
		}
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		plugins = append(plugins, PluginSpec{Name: p.Name, Enabled: enabled, Params: p.Params})
	}

	return &Route{
		PathPrefix:      raw.PathPrefix,
		Upstreams:       upstreams,
		HealthProbePath: healthPath,
		RequestTimeout:  timeout,
		RetryEnabled:    retryEnabled,
		MaxRetries:      maxRetries,
		LBStrategy:      strategy,
		Plugins:         plugins,
	}, nil
}

// coerceUpstreams implements spec §4.D's parsing rule: a string becomes a
// one-element list; a list is filtered down to its string entries; any
// other shape yields an empty list (which the caller then rejects).
func coerceUpstreams(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func coerceTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil // unset: the Proxy Pipeline then bounds each request at a fixed 30s; the global timeout settings are not applied here
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("request_timeout must not be negative, got %s", s)
	}
	return d, nil
}
