// Package logger builds the process-wide structured logger. All output is
// JSON on stdout, tagged with the service name so aggregated streams stay
// attributable.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

const serviceName = "avanza"

// New returns the service logger. The level defaults to info and can be
// lowered or raised through AVANZA_LOG_LEVEL (debug, info, warn, error).
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelFromEnv(os.Getenv("AVANZA_LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler).With(slog.String("service", serviceName))
}

func levelFromEnv(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
