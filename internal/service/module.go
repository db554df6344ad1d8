package service

import (
	"log/slog"

	"github.com/webitel/agent-event-bus/config"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			func(b *bus.Bus, cfg *config.Config) *Publisher {
				return NewPublisher(b, cfg.Service.Name)
			},
			fx.As(new(EventPublisher)),
		),
		func(hub registry.Hubber, cfg *config.Config) *Subscriber {
			return NewSubscriber(hub, cfg.Service.Name)
		},
		fx.Annotate(
			func(hub *registry.Hub, cfg *config.Config, logger *slog.Logger) *TapService {
				return NewTapService(hub, hub.ConnectorBuffer(), cfg.Taps.SendTimeout, logger)
			},
			fx.As(new(Tapper)),
		),
	),

	// [DECORATION_LAYER] Intercept the publisher to add cross-cutting concerns
	fx.Decorate(func(orig EventPublisher, logger *slog.Logger) EventPublisher {
		return NewPublisherMiddleware(orig, logger)
	}),
)
