package routeconfig

import (
	"fmt"
	"net/url"
)

// validateUpstreamURL enforces spec §3's "absolute origin URLs
// (scheme + host + optional port)" requirement: no path, query, or
// fragment, and scheme must be http or https.
func validateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a parseable URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("must be an origin URL with no path, got path %q", u.Path)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must be an origin URL with no query or fragment")
	}
	return nil
}
