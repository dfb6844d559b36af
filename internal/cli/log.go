// Package cli implements the watermark command-line interface.
//
// # Commands
//
//   - render: write a watermark tile as PNG or data URI
//   - serve: serve tiles and a demo page over HTTP
//   - guard: mount and defend an overlay inside an HTML file
//   - browse: mount and defend an overlay in a live Chrome page
//   - events: list recorded tamper alarms
//
// All commands accept --config (YAML), --verbose (-v) for debug logging and
// --db for the alarm log. The logger and the loaded configuration travel
// through the command context.
package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/gcslaoli/watermark-guard-go/internal/config"
)

// newLogger creates a logger with short timestamps at the given level.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

type ctxKey int

const (
	loggerKey ctxKey = iota
	configKey
)

func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext returns the command logger, or log.Default().
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

func withConfig(ctx context.Context, c *config.Config) context.Context {
	return context.WithValue(ctx, configKey, c)
}

// configFromContext returns the loaded configuration, or the defaults.
func configFromContext(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey).(*config.Config); ok {
		return c
	}
	return config.Default()
}
