// Package telemetry owns the OpenTelemetry SDK providers. Spans are written
// to the service log; metrics are pulled on demand through a manual reader.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/webitel/agent-event-bus/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

// InstrumentationName scopes the tracer and meter handed to the bus.
const InstrumentationName = "github.com/webitel/agent-event-bus"

// Providers bundles the SDK providers and the reader that serves metric
// snapshots.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Reader         *sdkmetric.ManualReader
}

// New builds the providers. Disabled telemetry samples no spans but keeps
// the metric pipeline so snapshots still work.
func New(cfg *config.Config, logger *slog.Logger) *Providers {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Service.Name),
		attribute.String("service.instance.id", cfg.Service.ID),
	)

	sampler := sdktrace.NeverSample()
	if cfg.Telemetry.Enabled {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.SampleRatio))
	}

	reader := sdkmetric.NewManualReader()
	p := &Providers{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
			sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
		Reader: reader,
	}

	if cfg.Telemetry.Enabled {
		otel.SetTracerProvider(p.TracerProvider)
		otel.SetMeterProvider(p.MeterProvider)
	}
	return p
}

func (p *Providers) Tracer() trace.Tracer { return p.TracerProvider.Tracer(InstrumentationName) }

func (p *Providers) Meter() metric.Meter { return p.MeterProvider.Meter(InstrumentationName) }

func (p *Providers) Shutdown(ctx context.Context) error {
	return multierr.Append(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}

// Sample is one flattened metric value.
type Sample struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit,omitempty"`
	Value float64 `json:"value"`
	// Count is set for histograms; Value is then the sum.
	Count uint64 `json:"count,omitempty"`
}

// Snapshot collects every instrument and sums its data points.
func (p *Providers) Snapshot(ctx context.Context) ([]Sample, error) {
	var rm metricdata.ResourceMetrics
	if err := p.Reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []Sample
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			s := Sample{Name: m.Name, Unit: m.Unit}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					s.Value += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					s.Value += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					s.Value += float64(dp.Value)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					s.Value += dp.Sum
					s.Count += dp.Count
				}
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// logProcessor writes finished sampled spans to the service log.
type logProcessor struct {
	logger *slog.Logger
}

func (l *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	args := []any{
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).Round(time.Microsecond),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		args = append(args, string(kv.Key), kv.Value.Emit())
	}
	l.logger.Debug("SPAN_ENDED", args...)
}

func (l *logProcessor) Shutdown(context.Context) error   { return nil }
func (l *logProcessor) ForceFlush(context.Context) error { return nil }
