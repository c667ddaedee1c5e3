package gatewaycore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeSource(vals map[string]string) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestEnvConfig_Defaults(t *testing.T) {
	cfg := EnvConfig(nil, fakeSource(nil))
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, 100, cfg.RateLimitMax)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestEnvConfig_OverridesFromSource(t *testing.T) {
	cfg := EnvConfig(nil, fakeSource(map[string]string{
		"PORT":           "8080",
		"NODE_ENV":       "production",
		"CORS_ORIGIN":    "https://a.example,https://b.example",
		"RATE_LIMIT_MAX": "25",
	}))
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "production", string(cfg.Mode))
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, 25, cfg.RateLimitMax)
}

func TestEngine_RunServesConfiguredRoutesAndShutsDownGracefully(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	doc := "routes:\n  - path_prefix: /api\n    upstreams: " + upstream.URL + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(doc), 0o644))

	cfg := EnvConfig(nil, fakeSource(map[string]string{
		"PORT":                "18743",
		"GATEWAY_CONFIG_PATH": configPath,
	}))

	engine := New(cfg, nil, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18743/livez")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:18743/api/x")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	require.NoError(t, <-done)
}
