// Package logging provides structured logging using Go's slog package.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// init initializes the default logger with text output, readable on a
// terminal during a deploy run.
func init() {
	once.Do(func() {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
		defaultLogger = slog.New(handler)
	})
}

// Logger returns the default logger.
func Logger() *slog.Logger {
	return defaultLogger
}

// SetLogger allows replacing the default logger (useful for testing).
func SetLogger(l *slog.Logger) {
	defaultLogger = l
}

// SetJSONHandler switches the default logger to JSON output, for non-TTY or
// CI invocations.
func SetJSONHandler(level slog.Level) {
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetTextHandler switches the default logger to text output at the given
// level.
func SetTextHandler(level slog.Level) {
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// WithContext returns the default logger; ctx is not consulted and no
// context values are attached.
func WithContext(ctx context.Context) *slog.Logger {
	return defaultLogger
}

// Common attribute helpers for consistent logging.

// Host creates a target host attribute.
func Host(host string) slog.Attr {
	return slog.String("host", host)
}

// Target creates a target index attribute.
func Target(index int) slog.Attr {
	return slog.Int("target", index)
}

// Path creates a file path attribute.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// Operation creates an operation name attribute.
func Operation(op string) slog.Attr {
	return slog.String("op", op)
}

// RunID creates a deploy-run correlation ID attribute.
func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

// Err creates an error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// DurationMs creates a duration attribute in milliseconds.
func DurationMs(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Size creates a size attribute in bytes.
func Size(bytes int64) slog.Attr {
	return slog.Int64("size_bytes", bytes)
}

// Attempt creates a retry attempt number attribute.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}
