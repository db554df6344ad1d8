package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// PublisherMiddleware implements [DECORATOR_PATTERN] to add observability
// to publishing without touching the publisher itself.
type PublisherMiddleware struct {
	Next   EventPublisher
	Logger *slog.Logger
}

// NewPublisherMiddleware creates a logging decorator for an EventPublisher.
func NewPublisherMiddleware(next EventPublisher, logger *slog.Logger) EventPublisher {
	return &PublisherMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *PublisherMiddleware) Command(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error) {
	start := time.Now()
	id, err := m.Next.Command(ctx, name, params, target, opts...)
	m.observe("command", name, id, start, err)
	return id, err
}

func (m *PublisherMiddleware) Notification(ctx context.Context, name string, data map[string]any, opts ...event.Option) (string, error) {
	start := time.Now()
	id, err := m.Next.Notification(ctx, name, data, opts...)
	m.observe("notification", name, id, start, err)
	return id, err
}

func (m *PublisherMiddleware) Query(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error) {
	start := time.Now()
	id, err := m.Next.Query(ctx, name, params, target, opts...)
	m.observe("query", name, id, start, err)
	return id, err
}

func (m *PublisherMiddleware) Response(ctx context.Context, queryID string, data map[string]any, success bool, opts ...event.Option) (string, error) {
	start := time.Now()
	id, err := m.Next.Response(ctx, queryID, data, success, opts...)
	m.observe("response", queryID, id, start, err)
	return id, err
}

func (m *PublisherMiddleware) Error(ctx context.Context, code, message, sourceEventID string, details map[string]any, opts ...event.Option) (string, error) {
	start := time.Now()
	id, err := m.Next.Error(ctx, code, message, sourceEventID, details, opts...)
	m.observe("error", code, id, start, err)
	return id, err
}

func (m *PublisherMiddleware) Publish(ctx context.Context, ev event.Event) (string, error) {
	start := time.Now()
	id, err := m.Next.Publish(ctx, ev)
	m.observe(string(ev.Type), ev.Name, id, start, err)
	return id, err
}

// PublishBatch wraps the whole batch with timing and a failure count.
func (m *PublisherMiddleware) PublishBatch(ctx context.Context, events []event.Event) []BatchResult {
	start := time.Now()
	res := m.Next.PublishBatch(ctx, events)

	failed := 0
	for _, r := range res {
		if !r.OK() {
			failed++
		}
	}

	// [OBSERVABILITY] Partial success is a warning, not an error
	level := slog.LevelDebug
	if failed > 0 {
		level = slog.LevelWarn
	}
	m.Logger.Log(ctx, level, "EVENT_BATCH_PUBLISHED",
		"size", len(events),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (m *PublisherMiddleware) observe(kind, name, id string, start time.Time, err error) {
	duration := time.Since(start)

	if err != nil {
		m.Logger.Warn("EVENT_PUBLISH_REJECTED",
			"err", err,
			"event_type", kind,
			"event_name", name,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}

	m.Logger.Debug("EVENT_PUBLISH_ACCEPTED",
		"event_id", id,
		"event_type", kind,
		"event_name", name,
		"duration_ms", duration.Milliseconds(),
	)
}
