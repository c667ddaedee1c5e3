package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundRobin_IncrementsBeforeIndexing(t *testing.T) {
	cands := []string{"a", "b", "c"}
	var cursor int64 = 0

	picks := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		p, err := RoundRobin(cands, &cursor)
		require.NoError(t, err)
		picks = append(picks, p)
	}
	require.Equal(t, []string{"b", "c", "a", "b", "c", "a"}, picks)
}

func TestRoundRobin_EmptyCandidatesErrors(t *testing.T) {
	var cursor int64
	_, err := RoundRobin(nil, &cursor)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestRandom_EmptyCandidatesErrors(t *testing.T) {
	_, err := Random(nil)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestRandom_AlwaysPicksFromList(t *testing.T) {
	cands := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		p, err := Random(cands)
		require.NoError(t, err)
		require.Contains(t, cands, p)
	}
}

type fakeHealth struct {
	healthy map[string]bool
}

func (f fakeHealth) IsHealthy(origin string) bool { return f.healthy[origin] }

func TestHealthAware_SkipsUnhealthy(t *testing.T) {
	cands := []string{"a", "b", "c"}
	hc := fakeHealth{healthy: map[string]bool{"a": true, "b": false, "c": true}}
	var cursor int64

	picks := make([]string, 0, 4)
	allDown := false
	for i := 0; i < 4; i++ {
		p, down, err := HealthAware(cands, &cursor, hc, "/api", allDown, nil)
		require.NoError(t, err)
		allDown = down
		picks = append(picks, p)
	}
	for _, p := range picks {
		require.NotEqual(t, "b", p)
	}
}

func TestHealthAware_FailsOverWhenAllDown(t *testing.T) {
	cands := []string{"a", "b"}
	hc := fakeHealth{healthy: map[string]bool{"a": false, "b": false}}
	var cursor int64

	transitions := 0
	p, allDown, err := HealthAware(cands, &cursor, hc, "/api", false, func(route string, down bool) {
		transitions++
	})
	require.NoError(t, err)
	require.True(t, allDown)
	require.Contains(t, cands, p)
	require.Equal(t, 1, transitions)

	// second call with wasAllDown=true for the same still-all-down state
	// must not fire the observer again.
	_, allDown2, err := HealthAware(cands, &cursor, hc, "/api", allDown, func(route string, down bool) {
		transitions++
	})
	require.NoError(t, err)
	require.True(t, allDown2)
	require.Equal(t, 1, transitions)
}

func TestHealthAware_EmptyCandidatesErrors(t *testing.T) {
	hc := fakeHealth{healthy: map[string]bool{}}
	var cursor int64
	_, _, err := HealthAware(nil, &cursor, hc, "/api", false, nil)
	require.ErrorIs(t, err, ErrNoCandidates)
}
