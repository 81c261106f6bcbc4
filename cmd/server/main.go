// Package main provides the entry point for the calltrace daemon: it
// subscribes to the group-call signalling stream and emits the span tree
// describing the local participant's membership.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/signalhouse/calltrace/domain/session"
	"github.com/signalhouse/calltrace/domain/signalling"
	"github.com/signalhouse/calltrace/domain/tracing"
	"github.com/signalhouse/calltrace/internal/config"
	"github.com/signalhouse/calltrace/internal/server"
	"github.com/signalhouse/calltrace/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		server.Module,
		tracing.Module,

		// Signalling source (bus + websocket listener)
		signalling.Module,

		// Session span-lifecycle manager
		session.Module,
	).Run()
}
