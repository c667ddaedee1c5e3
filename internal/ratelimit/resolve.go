package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Resolve implements spec §4.F's backing-store resolution rule: if
// sharedStoreURL is non-empty, attempt to connect with a short timeout;
// on success every Limiter built from the returned store shares it. On
// failure, log at warn and fall back to an in-process store — permanent
// for the process lifetime, no background reconnection attempt.
func Resolve(ctx context.Context, sharedStoreURL string, log *zap.Logger) store {
	if log == nil {
		log = zap.NewNop()
	}
	if sharedStoreURL == "" {
		return newMemoryStore()
	}

	resolveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st, err := NewRedisStore(resolveCtx, sharedStoreURL, log)
	if err != nil {
		log.Warn("rate limiter shared store unreachable, falling back to in-process store permanently",
			zap.String("shared_store_url", sharedStoreURL), zap.Error(err))
		return newMemoryStore()
	}
	return st
}
