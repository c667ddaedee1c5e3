// Package retry implements the Retry Engine (spec §4.E): a bounded
// exponential-backoff-with-jitter driver over a retryable-error
// predicate shared with the Circuit Breaker Registry's classifier.
//
// Grounded on the teacher's composable-future shape described for this
// spec's §9 design notes ("a function that returns a future, retried by
// a loop holding a deadline"); jitter uses math/rand/v2 per that note.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/caddyserver/gatewaycore/internal/breaker"
)

// Policy configures one Do call. Zero value is invalid; use DefaultPolicy.
type Policy struct {
	Initial    time.Duration // default 100ms
	Factor     float64       // default 2
	MaxDelay   time.Duration // default 10s
	MaxRetries int           // default 3 (so up to 4 total attempts)
}

// DefaultPolicy returns spec §4.E's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    100 * time.Millisecond,
		Factor:     2,
		MaxDelay:   10 * time.Second,
		MaxRetries: 3,
	}
}

// OnRetry is invoked before each wait between attempts.
type OnRetry func(attempt int, err error, delay time.Duration)

// Retryable reports whether err should trigger another attempt. The
// default, Retryable, matches the breaker's transport-error
// classification plus spec §4.E's "message contains one of those codes"
// legacy-compatibility extension (already folded into
// breaker.ClassifyTransportError).
func Retryable(err error) bool {
	return breaker.ClassifyTransportError(err)
}

// Do invokes fn up to policy.MaxRetries+1 times, waiting
// min(initial*factor^n, maxDelay) with +/-20% uniform jitter between
// attempts, stopping early if ctx is done or fn's error isn't retryable.
func Do(ctx context.Context, policy Policy, fn func(context.Context) error, onRetry OnRetry) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := backoffDelay(policy, attempt)
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// backoffDelay computes delay_n = min(initial * factor^n, max_delay)
// with +/-20% uniform jitter, per spec §4.E.
func backoffDelay(policy Policy, attempt int) time.Duration {
	base := float64(policy.Initial)
	for i := 0; i < attempt; i++ {
		base *= policy.Factor
	}
	capped := base
	if max := float64(policy.MaxDelay); capped > max {
		capped = max
	}

	jitterFactor := 0.8 + rand.Float64()*0.4 // [0.8, 1.2)
	return time.Duration(capped * jitterFactor)
}
