// Package logger builds the process-wide slog.Logger and provides the small
// attribute helpers (Scope, Error) the rest of the codebase logs with.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the application logger to the fx graph.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger builds a slog.Logger from the environment.
// LOG_LEVEL selects the minimum level (debug, info, warn/warning, error;
// case-insensitive, default info). GO_ENV=production switches to JSON output
// for log aggregation; everything else gets the human-readable text handler.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
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

// Scope returns the standard attribute identifying which component emitted a
// log line. Use it once when deriving a component logger:
//
//	log := log.With(logger.Scope("session.manager"))
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns the standard attribute for attaching an error to a log line.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
