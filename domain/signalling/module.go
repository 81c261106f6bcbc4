package signalling

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/signalhouse/calltrace/internal/config"
)

// Module provides the signalling event bus and, when an endpoint is
// configured, the websocket listener that feeds it.
var Module = fx.Module("signalling",
	fx.Provide(NewBus),
	fx.Provide(NewListener),
	fx.Invoke(RegisterLifecycle),
)

// LifecycleParams are the dependencies for lifecycle hooks
type LifecycleParams struct {
	fx.In

	LC       fx.Lifecycle
	Config   *config.Config
	Listener *Listener
	Log      *slog.Logger
}

// RegisterLifecycle starts and stops the websocket listener with the app.
// Without a configured endpoint the bus still works for in-process publishers.
func RegisterLifecycle(p LifecycleParams) {
	if !p.Config.Signalling.Enabled() {
		p.Log.Info("signalling listener disabled (SIGNALLING_WS_URL not set)")
		return
	}

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Listener.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Listener.Stop()
			return nil
		},
	})
}
