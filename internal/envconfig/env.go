// Package envconfig reads process environment variables into typed values,
// logging and falling back to a default on any parse error or out-of-range
// value rather than failing startup (spec §6: "invalid integer or
// out-of-range values log and fall back to defaults, non-fatal").
//
// The shape is grounded on Caddy's custom Duration unmarshaling idiom: a
// small set of parse-with-fallback helpers rather than a general-purpose
// config/flags library, since env vars here are a flat, known set.
package envconfig

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Source abstracts environment lookup so tests can inject a fake map
// without touching process-global state.
type Source func(key string) (string, bool)

// OSSource reads from os.LookupEnv.
func OSSource(key string) (string, bool) { return os.LookupEnv(key) }

func String(src Source, key, def string) string {
	if v, ok := src(key); ok && v != "" {
		return v
	}
	return def
}

func Int(log *zap.Logger, src Source, key string, def int) int {
	v, ok := src(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid integer env var, using default", zap.String("key", key), zap.String("value", v))
		}
		return def
	}
	return n
}

func IntRange(log *zap.Logger, src Source, key string, def, min, max int) int {
	n := Int(log, src, key, def)
	if n < min || n > max {
		if log != nil {
			log.Warn("env var out of range, using default", zap.String("key", key), zap.Int("value", n))
		}
		return def
	}
	return n
}

func Bool(log *zap.Logger, src Source, key string, def bool) bool {
	v, ok := src(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if log != nil {
			log.Warn("invalid boolean env var, using default", zap.String("key", key), zap.String("value", v))
		}
		return def
	}
	return b
}

// Millis reads a millisecond-count env var into a time.Duration.
func Millis(log *zap.Logger, src Source, key string, def time.Duration) time.Duration {
	v, ok := src(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		if log != nil {
			log.Warn("invalid duration env var, using default", zap.String("key", key), zap.String("value", v))
		}
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func Float(log *zap.Logger, src Source, key string, def float64) float64 {
	v, ok := src(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if log != nil {
			log.Warn("invalid float env var, using default", zap.String("key", key), zap.String("value", v))
		}
		return def
	}
	return f
}
