package bus

import (
	"context"
	"log/slog"

	"github.com/webitel/agent-event-bus/config"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/store"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config *config.Config
	Store  store.Store
	Hub    registry.Hubber
	Logger *slog.Logger
	Tracer trace.Tracer `optional:"true"`
	Meter  metric.Meter `optional:"true"`
}

// Module provides the process-wide bus. On stop it drains handlers for up
// to bus.shutdown_grace and logs what was left pending.
var Module = fx.Module("bus",
	fx.Provide(func(p Params) (*Bus, error) {
		return New(p.Store, p.Hub, p.Logger,
			WithMaxRetries(p.Config.Bus.MaxRetries),
			WithBaseBackoff(p.Config.Bus.BaseBackoff),
			WithMaxBackoff(p.Config.Bus.MaxBackoff),
			WithTracer(p.Tracer),
			WithMeter(p.Meter),
		)
	}),
	fx.Invoke(func(lc fx.Lifecycle, b *Bus, cfg *config.Config, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if cfg.Bus.ShutdownGrace > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, cfg.Bus.ShutdownGrace)
					defer cancel()
				}
				report, err := b.Shutdown(ctx)
				if len(report.Retrying)+len(report.Failed) > 0 {
					logger.Warn("BUS_PENDING_AT_SHUTDOWN",
						"retrying", report.Retrying,
						"failed", report.Failed,
					)
				}
				return err
			},
		})
	}),
)
