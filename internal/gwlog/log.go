// Package gwlog builds the process-wide structured logger.
//
// The shape is adapted from Caddy's logging setup (logging.go): a single
// configured sink rather than Caddy's pluggable-writer-per-named-log system,
// since the spec names no log-rotation or multi-sink requirement.
package gwlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode mirrors the NODE_ENV-like runtime mode tag from spec §6.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
	ModeTest        Mode = "test"
)

// New builds a *zap.Logger for the given mode and level string. An
// unparseable level falls back to info and is itself logged at warn,
// matching the "invalid values log and fall back to defaults" rule.
func New(mode Mode, levelStr string) *zap.Logger {
	level := zapcore.InfoLevel
	fellBack := false
	if levelStr != "" {
		if err := level.UnmarshalText([]byte(levelStr)); err != nil {
			fellBack = true
		}
	}

	var encCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if mode == ModeDevelopment {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller())
	if fellBack {
		logger.Warn("invalid LOG_LEVEL, falling back to info", zap.String("value", levelStr))
	}
	return logger
}

// Nop returns a logger that discards everything, for tests that don't want
// console noise.
func Nop() *zap.Logger { return zap.NewNop() }
