package cmd

import (
	"log/slog"

	"github.com/webitel/agent-event-bus/config"
	adapter "github.com/webitel/agent-event-bus/internal/adapter/pubsub"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/handler/api"
	pubsubhandler "github.com/webitel/agent-event-bus/internal/handler/pubsub"
	"github.com/webitel/agent-event-bus/internal/service"
	"github.com/webitel/agent-event-bus/internal/store"
	"github.com/webitel/agent-event-bus/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		telemetry.Module,
		store.Module,
		registry.Module,
		bus.Module,
		service.Module,
		adapter.Module,
		pubsubhandler.Module,
		api.Module,
	)
}
