package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("telemetry",
	fx.Provide(
		New,
		func(p *Providers) trace.Tracer { return p.Tracer() },
		func(p *Providers) metric.Meter { return p.Meter() },
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Providers) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return p.Shutdown(ctx) },
		})
	}),
)
