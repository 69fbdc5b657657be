// Package logging builds the slog logger of the ledger binaries. Records
// are written by a zap core reached through logr.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects the level and format of the logger.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a logger and a function flushing its buffers.
func New(cfg Config) (*slog.Logger, func(), error) {
	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		zcfg = zap.NewProductionConfig()
	case FormatConsole:
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	lvl, err := zapLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.DisableStacktrace = true

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	logger := slog.New(logr.ToSlogHandler(zapr.NewLogger(zl)))
	return logger, func() { _ = zl.Sync() }, nil
}

// zapLevel maps a level name to the zap level that lets the matching slog
// records through. slog debug arrives as logr V(4), which zapr writes at
// zap level -4.
func zapLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.Level(-4), nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(logr.ToSlogHandler(zapr.NewLogger(zap.NewNop())))
}
