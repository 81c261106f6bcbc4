package session

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/signalhouse/calltrace/domain/signalling"
)

// Module provides the session span-lifecycle manager
var Module = fx.Module("session",
	fx.Provide(NewManager),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterLifecycle),
)

// RegisterRoutes registers the session admin routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/api/session", h.HandleSnapshot)
}

// LifecycleParams are the dependencies for lifecycle hooks
type LifecycleParams struct {
	fx.In

	LC      fx.Lifecycle
	Manager *Manager
	Bus     *signalling.Bus
	Log     *slog.Logger
}

// RegisterLifecycle attaches the manager to the signalling bus on start and
// tears it down on stop. Teardown order matters: close open spans via
// OnLeave first, then detach the subscription.
func RegisterLifecycle(p LifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Manager.Attach(p.Bus)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Log.Info("stopping session manager")
			p.Manager.OnLeave()
			p.Manager.Dispose()
			return nil
		},
	})
}
