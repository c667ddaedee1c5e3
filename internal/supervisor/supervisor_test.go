package supervisor

import (
	"testing"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/plugin"
	"github.com/caddyserver/gatewaycore/internal/routeconfig"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor() *Supervisor {
	plugins := plugin.NewRegistry()
	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	h := health.New(health.DefaultConfig(), nil, nil)
	return New(plugins, breakers, h, nil)
}

const validDoc = `
routes:
  - path_prefix: /api/widgets
    upstreams: http://u1
  - path_prefix: /api
    upstreams: http://u2
`

func TestSupervisor_RebuildPublishesSortedByLongestPrefix(t *testing.T) {
	s := newTestSupervisor()
	err := s.Rebuild([]byte(validDoc))
	require.NoError(t, err)

	table := s.Table()
	require.NotNil(t, table)
	require.Len(t, table.Routes, 2)
	require.Equal(t, "/api/widgets", table.Routes[0].Route.PathPrefix)
	require.Equal(t, "/api", table.Routes[1].Route.PathPrefix)
}

func TestSupervisor_MatchUsesLongestPrefix(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Rebuild([]byte(validDoc)))

	table := s.Table()
	r := table.Match("/api/widgets/42")
	require.NotNil(t, r)
	require.Equal(t, "/api/widgets", r.Route.PathPrefix)

	r2 := table.Match("/api/other")
	require.NotNil(t, r2)
	require.Equal(t, "/api", r2.Route.PathPrefix)

	require.Nil(t, table.Match("/unrelated"))
}

func TestSupervisor_ZeroValidRoutesRetainsPriorTable(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Rebuild([]byte(validDoc)))
	prior := s.Table()

	err := s.Rebuild([]byte("routes: []\n"))
	require.ErrorIs(t, err, routeconfig.ErrNoValidRoutes)
	require.Same(t, prior, s.Table())
}

func TestSupervisor_MalformedDocumentRetainsPriorTable(t *testing.T) {
	s := newTestSupervisor()
	require.NoError(t, s.Rebuild([]byte(validDoc)))
	prior := s.Table()

	err := s.Rebuild([]byte("routes: [this is not valid yaml: :::"))
	require.Error(t, err)
	require.Same(t, prior, s.Table())
}

func TestSupervisor_StartupAttemptedFlips(t *testing.T) {
	s := newTestSupervisor()
	require.False(t, s.StartupAttempted())
	_ = s.Rebuild([]byte("routes: []\n"))
	require.True(t, s.StartupAttempted())
}
