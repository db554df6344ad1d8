package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// counters are updated with atomics so GetMetrics never takes a lock
// shared with dispatch.
type counters struct {
	published    atomic.Uint64
	delivered    atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	expired      atomic.Uint64
	filterErrors atomic.Uint64

	// latency holds subscription id → *latency.
	latency sync.Map

	duration metric.Float64Histogram
}

type latency struct {
	mu    sync.Mutex
	stats model.LatencyStats
}

func (l *latency) observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &l.stats
	if s.Count == 0 || d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	s.Count++
	s.Total += d
	s.Last = d
}

func (l *latency) snapshot() model.LatencyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (c *counters) observeLatency(ctx context.Context, subscriptionID string, d time.Duration) {
	v, _ := c.latency.LoadOrStore(subscriptionID, &latency{})
	v.(*latency).observe(d)

	if c.duration != nil {
		c.duration.Record(ctx, float64(d)/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("subscription_id", subscriptionID)))
	}
}

// register exports the counters as observable instruments.
func (c *counters) register(m metric.Meter) error {
	type gauge struct {
		name string
		desc string
		v    *atomic.Uint64
	}
	gauges := []gauge{
		{"agentbus.events.published", "Events accepted for dispatch, replays and dead-letter retries included.", &c.published},
		{"agentbus.deliveries.started", "Handler invocations started.", &c.delivered},
		{"agentbus.deliveries.completed", "Handler invocations that succeeded.", &c.completed},
		{"agentbus.deliveries.failed", "Handler invocations that failed or expired.", &c.failed},
		{"agentbus.deliveries.retried", "Retries scheduled after a failure.", &c.retried},
		{"agentbus.deliveries.dead_lettered", "Deliveries that exhausted their retry budget.", &c.deadLettered},
		{"agentbus.events.expired", "Events or deliveries dropped past expires_at.", &c.expired},
		{"agentbus.filter.errors", "Filter evaluations that failed.", &c.filterErrors},
	}

	observables := make([]metric.Observable, 0, len(gauges))
	instruments := make([]metric.Int64ObservableCounter, 0, len(gauges))
	for _, g := range gauges {
		inst, err := m.Int64ObservableCounter(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return err
		}
		instruments = append(instruments, inst)
		observables = append(observables, inst)
	}

	_, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for i, g := range gauges {
			o.ObserveInt64(instruments[i], int64(g.v.Load()))
		}
		return nil
	}, observables...)
	if err != nil {
		return err
	}

	c.duration, err = m.Float64Histogram("agentbus.handler.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Handler latency per subscription."))
	return err
}

// GetMetrics returns a point-in-time snapshot of the counters.
func (b *Bus) GetMetrics() model.Metrics {
	out := model.Metrics{
		EventsPublished: b.counters.published.Load(),
		Delivered:       b.counters.delivered.Load(),
		Completed:       b.counters.completed.Load(),
		Failed:          b.counters.failed.Load(),
		Retried:         b.counters.retried.Load(),
		DeadLettered:    b.counters.deadLettered.Load(),
		Expired:         b.counters.expired.Load(),
		FilterErrors:    b.counters.filterErrors.Load(),
		InFlightEvents:  b.inFlight(),
		Subscriptions:   make(map[string]model.LatencyStats),
		Uptime:          b.opts.now().Sub(b.started),
	}

	b.counters.latency.Range(func(k, v any) bool {
		out.Subscriptions[k.(string)] = v.(*latency).snapshot()
		return true
	})
	return out
}
