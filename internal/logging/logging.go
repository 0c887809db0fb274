// Package logging builds the structured zap.Logger used across every
// mirrorsync component, following the same pattern as the retrieval pack's
// other file-sync tools (file_sync's internal/logging, FruitSalade's
// shared/pkg/logger): a single constructor honoring a level string, rather
// than each package reaching for the stdlib "log" package independently.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-configured zap.Logger at the given level
// ("debug", "info", "warn", "error"; empty means "info"). Verbose is the
// CLI's -v… count; each extra -v lowers the effective level by one step.
func New(level string, verbose int) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	lvl = zapcore.Level(int8(lvl) - int8(verbose))
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Quiet is a no-op logger for --quiet and for tests that don't care about
// log output.
func Quiet() *zap.Logger {
	return zap.NewNop()
}
