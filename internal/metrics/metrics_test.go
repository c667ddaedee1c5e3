package metrics

import (
	"strings"
	"testing"
)

func TestRegistryCollectorsAreRegistered(t *testing.T) {
	r := New()
	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// the process and Go collectors report unconditionally, so even before
	// any app metric is observed, Gather already returns their families.
	before := len(mfs)
	if before == 0 {
		t.Fatalf("expected process/Go collector families before any app observation, got 0")
	}

	r.HTTPRequestsTotal.WithLabelValues("GET", "/api", "200").Inc()
	mfs, err = r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != before+1 {
		t.Fatalf("expected exactly one additional observed family, got %d (was %d)", len(mfs), before)
	}
}

func TestSanitizeMethod(t *testing.T) {
	tests := []struct {
		method   string
		expected string
	}{
		{method: "get", expected: "GET"},
		{method: "POST", expected: "POST"},
		{method: "OPTIONS", expected: "OPTIONS"},
		{method: "connect", expected: "CONNECT"},
		{method: "trace", expected: "TRACE"},
		{method: "UNKNOWN", expected: "OTHER"},
		{method: strings.Repeat("ohno", 9999), expected: "OTHER"},
	}

	for _, d := range tests {
		actual := SanitizeMethod(d.method)
		if actual != d.expected {
			t.Errorf("Not same: expected %#v, but got %#v", d.expected, actual)
		}
	}
}
