// Package proxy implements the Proxy Pipeline (spec §4.H): plugins ->
// circuit gate -> load-balanced upstream selection -> forward with
// retry/timeout/streaming/hop-header rules.
//
// Grounded on the teacher's caddyhttp.Handler/MiddlewareHandler chain
// shape (caddyhttp.go) and HandlerError/Error() (errors.go); the manual
// director (rather than httputil.ReverseProxy directly) is needed
// because the streaming/hop-header/cancellation rules here are bespoke.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
	"github.com/caddyserver/gatewaycore/internal/health"
	"github.com/caddyserver/gatewaycore/internal/loadbalance"
	"github.com/caddyserver/gatewaycore/internal/metrics"
	"github.com/caddyserver/gatewaycore/internal/routeconfig"
	"go.uber.org/zap"
)

// perAttemptBackoffCap bounds the retry loop's own backoff, distinct
// from the Retry Engine's general-purpose policy (spec §4.H step 5:
// "bounded to 1s per attempt - the shorter, per-request budget").
const perAttemptBackoffCap = time.Second

// RuntimeRoute is a Route plus the mutable state the pipeline needs per
// request: the load-balancer cursor (advanced only under the Pipeline's
// selection lock) and the already-resolved plugin chain.
type RuntimeRoute struct {
	Route      routeconfig.Route
	Cursor     int64
	Middleware []func(http.Handler) http.Handler
}

// Pipeline is the shared forwarding engine used by every matched route.
// Besides its injected collaborators it keeps one piece of state, the
// per-route all-upstreams-down flag, which mu guards together with the
// route cursors it advances.
type Pipeline struct {
	Client    *http.Client
	Breakers  *breaker.Registry
	Health    *health.Monitor
	Metrics   *metrics.Registry
	Log       *zap.Logger
	mu             sync.Mutex
	allDownByRoute map[string]bool
}

// New builds a Pipeline. client should be configured with the gateway's
// connection pool caps (MaxIdleConnsPerHost/MaxConnsPerHost).
func New(client *http.Client, breakers *breaker.Registry, h *health.Monitor, m *metrics.Registry, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Client:   client,
		Breakers: breakers,
		Health:   h,
		Metrics:  m,
		Log:      log,
		allDownByRoute: make(map[string]bool),
	}
}

// Serve runs one request through the pipeline for its matched route.
// peerAddr is the client's socket peer address (for X-Forwarded-For).
func (p *Pipeline) Serve(w http.ResponseWriter, r *http.Request, rr *RuntimeRoute, peerAddr string) {
	tw := &trackingWriter{ResponseWriter: w}

	handler := chainMiddleware(rr.Middleware, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.forward(w.(*trackingWriter), r, rr, peerAddr)
	}))
	handler.ServeHTTP(tw, r)
}

func chainMiddleware(mws []func(http.Handler) http.Handler, final http.Handler) http.Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// forward is steps 2-6 of spec §4.H, run after the plugin chain (step 1)
// has already executed without short-circuiting.
func (p *Pipeline) forward(tw *trackingWriter, r *http.Request, rr *RuntimeRoute, peerAddr string) {
	route := rr.Route
	timeout := route.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	excluded := make(map[string]bool)
	maxAttempts := 1
	if route.RetryEnabled {
		maxAttempts += route.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		upstream, err := p.selectUpstream(route, rr, excluded)
		if err != nil {
			lastErr = err
			break
		}

		status, attemptErr := p.attempt(ctx, tw, r, route, upstream, peerAddr)
		if attemptErr == nil {
			return // response already streamed to the client
		}
		lastErr = attemptErr
		excluded[upstream] = true

		if tw.started {
			// response-already-started rule: never attempt another
			// upstream once bytes have gone out.
			return
		}

		isLastAttempt := attempt == maxAttempts-1
		if isLastAttempt || !route.RetryEnabled {
			break
		}

		delay := backoffForAttempt(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			isLastAttempt = true
		case <-timer.C:
		}
		_ = status
		if isLastAttempt {
			break
		}
	}

	if !tw.started {
		writeBadGateway(tw, lastErr)
	}
}

func backoffForAttempt(attempt int) time.Duration {
	d := 100 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > perAttemptBackoffCap {
		d = perAttemptBackoffCap
	}
	return d
}

// selectUpstream implements spec §4.H step 2: select via the route's LB
// strategy among candidates whose breaker isn't OPEN; if that filtered
// set is empty, fail over to the full candidate set.
func (p *Pipeline) selectUpstream(route routeconfig.Route, rr *RuntimeRoute, excluded map[string]bool) (string, error) {
	candidates := make([]string, 0, len(route.Upstreams))
	for _, u := range route.Upstreams {
		if excluded[u] {
			continue
		}
		if p.Breakers.Get(u).IsOpen() {
			continue
		}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		for _, u := range route.Upstreams {
			if !excluded[u] {
				candidates = append(candidates, u)
			}
		}
	}
	if len(candidates) == 0 {
		// every upstream excluded this request; retry with the full set
		// so we don't dead-end on a single bad pick.
		candidates = append(candidates, route.Upstreams...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch route.LBStrategy {
	case routeconfig.StrategyRoundRobin:
		return loadbalance.RoundRobin(candidates, &rr.Cursor)
	case routeconfig.StrategyRandom:
		return loadbalance.Random(candidates)
	default: // health_aware
		wasAllDown := p.allDownByRoute[route.PathPrefix]
		picked, allDown, err := loadbalance.HealthAware(candidates, &rr.Cursor, p.Health, route.PathPrefix, wasAllDown, func(routeKey string, down bool) {
			if down {
				p.Log.Warn("all upstreams unhealthy, failing over to full candidate list", zap.String("route", routeKey))
			} else {
				p.Log.Info("upstream health recovered, resuming health-aware selection", zap.String("route", routeKey))
			}
		})
		p.allDownByRoute[route.PathPrefix] = allDown
		return picked, err
	}
}

// attempt executes one forward attempt under the breaker and, on
// success, streams the response to the client and returns a nil error.
// A non-nil error means no bytes were written and the caller may retry.
func (p *Pipeline) attempt(ctx context.Context, tw *trackingWriter, r *http.Request, route routeconfig.Route, upstream string, peerAddr string) (int, error) {
	br := p.Breakers.Get(upstream)

	var resp *http.Response
	var statusForMetrics int
	start := time.Now()

	execErr := br.Execute(func() error {
		outReq, err := p.buildOutboundRequest(ctx, r, route, upstream, peerAddr)
		if err != nil {
			return err
		}
		resp, err = p.Client.Do(outReq)
		return err
	})

	if p.Metrics != nil {
		p.Metrics.UpstreamRequestDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
	}

	if execErr != nil {
		if ctx.Err() != nil {
			br.ReleaseTrial()
			return 0, ctx.Err()
		}
		br.RecordFailure(execErr)
		if p.Metrics != nil {
			p.Metrics.UpstreamRequestsTotal.WithLabelValues(upstream, "error").Inc()
		}
		return 0, execErr
	}
	defer resp.Body.Close()

	statusForMetrics = resp.StatusCode
	if p.Metrics != nil {
		p.Metrics.UpstreamRequestsTotal.WithLabelValues(upstream, metrics.SanitizeCode(resp.StatusCode)).Inc()
	}

	if breaker.ClassifyHTTPStatus(resp.StatusCode) {
		br.RecordFailure(fmt.Errorf("upstream returned status %d", resp.StatusCode))
		return statusForMetrics, fmt.Errorf("upstream %s returned %d", upstream, resp.StatusCode)
	}
	br.RecordSuccess()

	stripHopByHopHeaders(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			tw.Header().Add(k, v)
		}
	}
	tw.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(tw, resp.Body); err != nil {
		// client connection likely gone mid-stream; nothing more to do.
		return statusForMetrics, nil
	}
	return statusForMetrics, nil
}

// buildOutboundRequest implements spec §4.H step 3.
func (p *Pipeline) buildOutboundRequest(ctx context.Context, r *http.Request, route routeconfig.Route, upstream string, peerAddr string) (*http.Request, error) {
	upstreamURL, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", upstream, err)
	}

	suffix := strings.TrimPrefix(r.URL.Path, route.PathPrefix)
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}

	target := *upstreamURL
	target.Path = suffix
	target.RawQuery = r.URL.RawQuery

	var body io.ReadCloser
	if r.Body != nil {
		body = r.Body
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outReq.Header = r.Header.Clone()
	stripHopByHopHeaders(outReq.Header)
	outReq.Host = target.Host

	if peerAddr != "" {
		if existing := outReq.Header.Get("X-Forwarded-For"); existing != "" {
			outReq.Header.Set("X-Forwarded-For", existing+", "+peerAddr)
		} else {
			outReq.Header.Set("X-Forwarded-For", peerAddr)
		}
	}

	return outReq, nil
}

type badGatewayBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeBadGateway(w http.ResponseWriter, cause error) {
	msg := "no upstream available"
	if cause != nil {
		msg = cause.Error()
	}
	body := badGatewayBody{Error: "Bad Gateway", Message: msg, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	enc, _ := json.Marshal(body)
	_, _ = w.Write(enc)
}
