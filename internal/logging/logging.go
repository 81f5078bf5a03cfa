// Package logging provides the structured logger factory used by the demo
// and the bridge that routes LaunchDarkly SDK output into [log/slog].
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// New creates a [slog.Logger] writing to stderr at the given level.
// format is "json" or "text"; anything else selects text.
func New(level, format string) *slog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a [slog.Logger] writing to w.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LDLoggers returns LaunchDarkly SDK loggers that write through logger's
// handler, keeping each SDK level on the matching slog level. The SDK's
// minimum level follows the handler: levels the handler drops are
// suppressed before formatting.
func LDLoggers(logger *slog.Logger) ldlog.Loggers {
	loggers := ldlog.NewDefaultLoggers()
	handler := logger.Handler()

	levels := []struct {
		ld   ldlog.LogLevel
		slog slog.Level
	}{
		{ldlog.Debug, slog.LevelDebug},
		{ldlog.Info, slog.LevelInfo},
		{ldlog.Warn, slog.LevelWarn},
		{ldlog.Error, slog.LevelError},
	}

	minLevel := ldlog.None
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		loggers.SetBaseLoggerForLevel(l.ld, slog.NewLogLogger(handler, l.slog))
		if logger.Enabled(context.Background(), l.slog) {
			minLevel = l.ld
		}
	}
	loggers.SetMinLevel(minLevel)

	return loggers
}
