// Package gatewaycore wires every component (Config Store, Circuit
// Breaker Registry, Health Monitor, Load Balancer, Retry Engine, Rate
// Limiter, Plugin Host, Proxy Pipeline, Router Supervisor, Config
// Watcher, Server Frontend, Observability Surface) into one Engine, the
// unit a host process (cmd/gatewayd) constructs and runs.
package gatewaycore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/envconfig"
	"github.com/caddyserver/gatewaycore/internal/gwlog"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/observability"
	"github.com/caddyserver/gatewaycore/internal/plugin"
	"github.com/caddyserver/gatewaycore/internal/plugin/authplugin"
	"github.com/caddyserver/gatewaycore/internal/proxy"
	"github.com/caddyserver/gatewaycore/internal/ratelimit"
	"github.com/caddyserver/gatewaycore/internal/server"
	"github.com/caddyserver/gatewaycore/internal/supervisor"
	"github.com/caddyserver/gatewaycore/internal/watcher"
	"go.uber.org/zap"
)

// Config is the fully resolved set of tunables an Engine needs, already
// read from the environment per spec §6 (env var names match exactly;
// see EnvConfig).
type Config struct {
	Port int

	Mode gwlog.Mode

	TrustProxy bool

	CORSOrigins      []string
	CORSCredentials  bool
	BodyLimitBytes   int64
	CompressionBytes int

	RequestTimeout     time.Duration
	UpstreamTimeout    time.Duration
	HealthCheckTimeout time.Duration
	ShutdownTimeout    time.Duration

	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFactor       float64

	CircuitBreakerTimeout      time.Duration
	CircuitBreakerErrorPct     float64
	CircuitBreakerResetTimeout time.Duration

	HealthCheckInterval           time.Duration
	HealthCheckUnhealthyThreshold int
	HealthCheckHealthyThreshold   int

	MaxSockets     int
	MaxFreeSockets int

	RateLimitWindow         time.Duration
	RateLimitMax            int
	RateLimitStrictMax      int
	RateLimitStrictPrefixes []string

	SharedRateLimitStoreURL string

	LogLevel   string
	ConfigPath string
}

// EnvConfig reads Config from src (use envconfig.OSSource in
// production; tests inject a fake map), per spec §6's environment
// variable table. Every value is validated non-fatally: invalid or
// out-of-range values log and fall back to defaults.
func EnvConfig(log *zap.Logger, src envconfig.Source) Config {
	modeStr := envconfig.String(src, "NODE_ENV", "development")
	mode := gwlog.ModeDevelopment
	switch modeStr {
	case "production":
		mode = gwlog.ModeProduction
	case "test":
		mode = gwlog.ModeTest
	}

	return Config{
		Port:       envconfig.IntRange(log, src, "PORT", 3000, 1, 65535),
		Mode:       mode,
		TrustProxy: envconfig.Bool(log, src, "TRUST_PROXY", false),

		CORSOrigins:      splitCSV(envconfig.String(src, "CORS_ORIGIN", "*")),
		CORSCredentials:  envconfig.Bool(log, src, "CORS_CREDENTIALS", false),
		BodyLimitBytes:   int64(envconfig.Int(log, src, "REQUEST_BODY_LIMIT", 10*1024*1024)),
		CompressionBytes: 1024,

		RequestTimeout:     envconfig.Millis(log, src, "REQUEST_TIMEOUT_MS", 30*time.Second),
		UpstreamTimeout:    envconfig.Millis(log, src, "UPSTREAM_TIMEOUT_MS", 30*time.Second),
		HealthCheckTimeout: envconfig.Millis(log, src, "HEALTH_CHECK_TIMEOUT_MS", 5*time.Second),
		ShutdownTimeout:    envconfig.Millis(log, src, "SHUTDOWN_TIMEOUT_MS", 10*time.Second),

		MaxRetries:        envconfig.Int(log, src, "MAX_RETRIES", 3),
		RetryInitialDelay: envconfig.Millis(log, src, "RETRY_INITIAL_DELAY_MS", 100*time.Millisecond),
		RetryMaxDelay:     envconfig.Millis(log, src, "RETRY_MAX_DELAY_MS", 10*time.Second),
		RetryFactor:       envconfig.Float(log, src, "RETRY_FACTOR", 2),

		CircuitBreakerTimeout:      envconfig.Millis(log, src, "CIRCUIT_BREAKER_TIMEOUT_MS", 60*time.Second),
		CircuitBreakerErrorPct:     envconfig.Float(log, src, "CIRCUIT_BREAKER_ERROR_THRESHOLD", 50),
		CircuitBreakerResetTimeout: envconfig.Millis(log, src, "CIRCUIT_BREAKER_RESET_TIMEOUT_MS", 30*time.Second),

		HealthCheckInterval:           envconfig.Millis(log, src, "HEALTH_CHECK_INTERVAL_MS", 30*time.Second),
		HealthCheckUnhealthyThreshold: envconfig.Int(log, src, "HEALTH_CHECK_UNHEALTHY_THRESHOLD", 3),
		HealthCheckHealthyThreshold:   envconfig.Int(log, src, "HEALTH_CHECK_HEALTHY_THRESHOLD", 2),

		MaxSockets:     envconfig.Int(log, src, "MAX_SOCKETS", 50),
		MaxFreeSockets: envconfig.Int(log, src, "MAX_FREE_SOCKETS", 10),

		RateLimitWindow:         envconfig.Millis(log, src, "RATE_LIMIT_WINDOW_MS", 60*time.Second),
		RateLimitMax:            envconfig.Int(log, src, "RATE_LIMIT_MAX", 100),
		RateLimitStrictMax:      envconfig.Int(log, src, "RATE_LIMIT_STRICT_MAX", 10),
		RateLimitStrictPrefixes: splitCSV(envconfig.String(src, "RATE_LIMIT_STRICT_PATHS", "")),

		SharedRateLimitStoreURL: envconfig.String(src, "SHARED_RATE_LIMIT_STORE_URL", ""),

		LogLevel:   envconfig.String(src, "LOG_LEVEL", "info"),
		ConfigPath: envconfig.String(src, "GATEWAY_CONFIG_PATH", "./gateway.yaml"),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Engine is the fully wired gateway instance.
type Engine struct {
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.Registry
	breakers  *breaker.Registry
	health    *health.Monitor
	plugins   *plugin.Registry
	sup       *supervisor.Supervisor
	pipe      *proxy.Pipeline
	limiter   *ratelimit.Limiter
	surface   *observability.Surface
	frontend  *server.Frontend
	watcher   *watcher.Watcher
	httpSrv   *http.Server
	startedAt time.Time
}

// New constructs an Engine from cfg. log may be nil (a no-op logger is
// used). startedAt is the single timestamp the Observability Surface's
// uptime calculations are relative to.
func New(cfg Config, log *zap.Logger, startedAt time.Time) *Engine {
	if log == nil {
		log = gwlog.Nop()
	}

	m := metrics.New()

	breakerCfg := breaker.Config{
		WindowDuration:    cfg.CircuitBreakerTimeout,
		NumBuckets:        12,
		ResetTimeout:      cfg.CircuitBreakerResetTimeout,
		ErrorThresholdPct: cfg.CircuitBreakerErrorPct,
		MinFiresInWindow:  20,
	}
	breakers := breaker.NewRegistry(breakerCfg, func(upstream string, from, to breaker.State) {
		m.CircuitBreakerState.WithLabelValues(upstream).Set(breakerStateGauge(to))
		log.Info("circuit breaker transition", zap.String("upstream", upstream), zap.String("from", from.String()), zap.String("to", to.String()))
	})

	healthCfg := health.Config{
		Interval:           cfg.HealthCheckInterval,
		Timeout:            cfg.HealthCheckTimeout,
		HealthyThreshold:   cfg.HealthCheckHealthyThreshold,
		UnhealthyThreshold: cfg.HealthCheckUnhealthyThreshold,
	}
	healthMonitor := health.New(healthCfg, log, func(upstream string, healthy bool) {
		v := 0.0
		if healthy {
			v = 1.0
		}
		m.UpstreamHealthy.WithLabelValues(upstream).Set(v)
	})

	plugins := plugin.NewRegistry()
	authClient := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxConnsPerHost:     cfg.MaxSockets,
			MaxIdleConnsPerHost: cfg.MaxFreeSockets,
		},
	}
	plugins.Register(authplugin.Name, authplugin.Factory(authClient))

	sup := supervisor.New(plugins, breakers, healthMonitor, log)

	gatewayClient := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     cfg.MaxSockets,
			MaxIdleConnsPerHost: cfg.MaxFreeSockets,
		},
	}
	pipe := proxy.New(gatewayClient, breakers, healthMonitor, m, log)

	store := ratelimit.Resolve(context.Background(), cfg.SharedRateLimitStoreURL, log)
	limiter := ratelimit.New(ratelimit.Profile{Name: "default", Limit: cfg.RateLimitMax, Window: cfg.RateLimitWindow}, "gw", store, log)
	strictLimiter := ratelimit.New(ratelimit.Profile{Name: "strict", Limit: cfg.RateLimitStrictMax, Window: cfg.RateLimitWindow}, "gw", store, log)

	surface := observability.New(startedAt, sup, breakers, healthMonitor, m)

	frontendCfg := server.Config{
		CORS:                    server.CORSConfig{AllowedOrigins: cfg.CORSOrigins, AllowCredentials: cfg.CORSCredentials},
		CompressionThreshold:    cfg.CompressionBytes,
		BodyLimitBytes:          cfg.BodyLimitBytes,
		RequestDeadline:        cfg.RequestTimeout,
		TrustProxy:             cfg.TrustProxy,
		StrictRateLimitPrefixes: cfg.RateLimitStrictPrefixes,
	}
	frontend := server.New(frontendCfg, sup, pipe, limiter, strictLimiter, surface, m, log)

	w := watcher.New(cfg.ConfigPath, watcher.DefaultDebounce, log)

	return &Engine{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		breakers:  breakers,
		health:    healthMonitor,
		plugins:   plugins,
		sup:       sup,
		pipe:      pipe,
		limiter:   limiter,
		surface:   surface,
		frontend:  frontend,
		watcher:   w,
		startedAt: startedAt,
	}
}

func breakerStateGauge(s breaker.State) float64 {
	switch s {
	case breaker.Open:
		return 1
	case breaker.HalfOpen:
		return 2
	default:
		return 0
	}
}

// Run loads the initial configuration, starts the config watcher, and
// serves HTTP until ctx is cancelled, then performs graceful shutdown
// within cfg.ShutdownTimeout: new connections are no longer accepted,
// in-flight requests get the grace window to finish, and any connection
// still open when it ends is closed, which cancels its request.
func (e *Engine) Run(ctx context.Context) error {
	if data, err := os.ReadFile(e.cfg.ConfigPath); err != nil {
		e.log.Error("initial config load failed", zap.String("path", e.cfg.ConfigPath), zap.Error(err))
	} else if err := e.sup.Rebuild(data); err != nil {
		e.log.Error("initial config rebuild failed", zap.Error(err))
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go e.watcher.Run(watchCtx)
	go e.runRebuildLoop(watchCtx)

	e.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", e.cfg.Port),
		Handler: e.frontend,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("gateway listening", zap.Int("port", e.cfg.Port))
		if err := e.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return e.shutdown()
	case err := <-errCh:
		return err
	}
}

// runRebuildLoop drains the watcher's debounced rebuild requests into
// the Router Supervisor. During shutdown (ctx cancelled) it stops, per
// spec §5: "during shutdown, config rebuilds are ignored".
func (e *Engine) runRebuildLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-e.watcher.Rebuilds:
			if err := e.sup.Rebuild(data); err != nil {
				e.log.Error("config rebuild failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	e.log.Info("shutting down gracefully", zap.Duration("grace_period", e.cfg.ShutdownTimeout))

	if err := e.limiter.Close(); err != nil {
		e.log.Warn("error closing rate limiter store", zap.Error(err))
	}

	if err := e.httpSrv.Shutdown(shutdownCtx); err != nil {
		_ = e.httpSrv.Close()
		return err
	}
	return nil
}
