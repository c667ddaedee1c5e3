package routeconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `
version: "1"
routes:
  - path_prefix: /api/products
    upstreams: http://u:8080
  - path_prefix: /api/orders
    upstreams:
      - http://a
      - http://b
    lb_strategy: health_aware
    max_retries: 2
  - path_prefix: /bad
    upstreams: http://bad
    lb_strategy: nonsense
  - path_prefix: ""
    upstreams: http://nohost
`

func TestValidate_MixedDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDoc))
	require.NoError(t, err)

	routes, errs := Validate(doc)
	require.Len(t, routes, 2)
	require.Len(t, errs, 2)

	require.Equal(t, "/api/products", routes[0].PathPrefix)
	require.Equal(t, []string{"http://u:8080"}, routes[0].Upstreams)
	require.Equal(t, DefaultHealthProbePath, routes[0].HealthProbePath)
	require.Equal(t, DefaultMaxRetries, routes[0].MaxRetries)
	require.Equal(t, DefaultLBStrategy, routes[0].LBStrategy)
	require.True(t, routes[0].RetryEnabled)

	require.Equal(t, 2, routes[1].MaxRetries)
	require.Equal(t, StrategyHealthAware, routes[1].LBStrategy)
}

func TestValidate_EmptyDocumentYieldsNoRoutesAndNoErrors(t *testing.T) {
	doc, err := ParseDocument([]byte("version: \"1\"\nroutes: []\n"))
	require.NoError(t, err)

	routes, errs := Validate(doc)
	require.Empty(t, routes)
	require.Empty(t, errs)
}

func TestValidate_NegativeTimeoutRejected(t *testing.T) {
	doc, err := ParseDocument([]byte(`
routes:
  - path_prefix: /x
    upstreams: http://u
    request_timeout: "-5s"
`))
	require.NoError(t, err)

	routes, errs := Validate(doc)
	require.Empty(t, routes)
	require.Len(t, errs, 1)
}

func TestCoerceUpstreams(t *testing.T) {
	require.Equal(t, []string{"http://a"}, coerceUpstreams("http://a"))
	require.Equal(t, []string{"http://a", "http://b"}, coerceUpstreams([]any{"http://a", "http://b", 42}))
	require.Empty(t, coerceUpstreams(42))
	require.Empty(t, coerceUpstreams(""))
}

func TestValidateUpstreamURL(t *testing.T) {
	require.NoError(t, validateUpstreamURL("http://host:8080"))
	require.NoError(t, validateUpstreamURL("https://host"))
	require.Error(t, validateUpstreamURL("ftp://host"))
	require.Error(t, validateUpstreamURL("http://host/path"))
	require.Error(t, validateUpstreamURL("not a url at all ://"))
}
