package bus

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second

	instrumentationName = "github.com/webitel/agent-event-bus/internal/bus"
)

// Option configures a Bus.
type Option func(*options)

type options struct {
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
	tracer      trace.Tracer
	meter       metric.Meter
}

func defaultOptions() options {
	return options{
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		now:         time.Now,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
}

// WithMaxRetries sets the retry budget for events that do not carry one.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the delay before the first retry. Each further retry
// doubles it.
func WithBaseBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseBackoff = d
		}
	}
}

// WithMaxBackoff caps the retry delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxBackoff = d
		}
	}
}

// WithClock overrides the time source used for published_at and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMeter sets the meter the bus counters are exported through.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}
