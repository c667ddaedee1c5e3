// Package loadbalance implements the Load Balancer (spec §4.D): stateless
// selection functions over a candidate upstream list plus an externally
// owned cursor. Grounded line-for-line on
// reverseproxy/selectionpolicies_test.go's RoundRobinSelection contract —
// the cursor increments before indexing, and down hosts are skipped
// without resetting the counter.
package loadbalance

import (
	"math/rand/v2"
)

// ErrNoCandidates is returned when the candidate list is empty; spec §4.D
// treats this as a route-build-time error, so callers should never reach
// this package with zero upstreams, but selection still guards against it.
var ErrNoCandidates = noCandidatesErr{}

type noCandidatesErr struct{}

func (noCandidatesErr) Error() string { return "load balancer: no candidate upstreams" }

// HealthChecker reports whether a candidate is currently considered
// healthy. Implemented by *health.Monitor.
type HealthChecker interface {
	IsHealthy(origin string) bool
}

// RoundRobin returns cands[cursor mod n], incrementing *cursor first
// (spec §4.D). Cursor mutation is the caller's single-writer discipline
// (the Router Supervisor's per-route cursor).
func RoundRobin(cands []string, cursor *int64) (string, error) {
	if len(cands) == 0 {
		return "", ErrNoCandidates
	}
	*cursor++
	idx := *cursor % int64(len(cands))
	if idx < 0 {
		idx += int64(len(cands))
	}
	return cands[idx], nil
}

// Random returns a uniformly chosen candidate.
func Random(cands []string) (string, error) {
	if len(cands) == 0 {
		return "", ErrNoCandidates
	}
	return cands[rand.IntN(len(cands))], nil
}

// HealthAwareObserver is notified once per failover transition (spec
// §4.D: "log a warning once per transition").
type HealthAwareObserver func(route string, allDown bool)

// HealthAware round-robins among the healthy sublist of cands; if none
// are healthy, it fails over to the full candidate list. observer (may
// be nil) fires only on the edge where allDown flips, which the caller
// tracks and passes in as wasAllDown so this stays a pure function.
func HealthAware(cands []string, cursor *int64, healthy HealthChecker, route string, wasAllDown bool, observer HealthAwareObserver) (string, bool, error) {
	if len(cands) == 0 {
		return "", wasAllDown, ErrNoCandidates
	}

	healthyCands := make([]string, 0, len(cands))
	for _, c := range cands {
		if healthy.IsHealthy(c) {
			healthyCands = append(healthyCands, c)
		}
	}

	allDown := len(healthyCands) == 0
	if allDown != wasAllDown && observer != nil {
		observer(route, allDown)
	}

	pool := healthyCands
	if allDown {
		pool = cands
	}

	picked, err := RoundRobin(pool, cursor)
	return picked, allDown, err
}
