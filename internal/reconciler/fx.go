package reconciler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("reconciler",
	fx.Provide(NewSessions),
	fx.Invoke(registerShutdown),
)

func registerShutdown(lc fx.Lifecycle, sessions *Sessions) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sessions.CloseAll()
			return nil
		},
	})
}
