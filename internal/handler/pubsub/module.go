package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/agent-event-bus/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
)

var Module = fx.Module("pubsub-handler",
	fx.Provide(
		NewIngressHandler,
		NewWatermillRouter,
		NewEgress,
	),

	fx.Invoke(RegisterHandlers),
)

// RegisterHandlers wires ingress and egress and ties the router to the app
// lifecycle. Disabled pubsub leaves the broker idle.
func RegisterHandlers(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *message.Router,
	sub message.Subscriber,
	ingress *IngressHandler,
	egress *Egress,
	logger *slog.Logger,
) error {
	if !cfg.PubSub.Enabled {
		logger.Info("PUBSUB_DISABLED")
		return nil
	}
	if err := ingress.RegisterHandlers(router, sub); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := egress.Start(); err != nil {
				return err
			}
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("WATERMILL_ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return multierr.Append(egress.Stop(), router.Close())
		},
	})
	return nil
}
