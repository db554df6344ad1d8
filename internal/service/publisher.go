package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

// Router is the part of the bus a publisher needs.
type Router interface {
	Publish(ctx context.Context, ev event.Event) (string, error)
	GetEvent(ctx context.Context, id string) (event.Event, error)
}

// [PUBLISHER] PRIMARY INTERFACE FOR AGENTS AND INGRESS ADAPTERS
type EventPublisher interface {
	Command(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error)
	Notification(ctx context.Context, name string, data map[string]any, opts ...event.Option) (string, error)
	Query(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error)
	Response(ctx context.Context, queryID string, data map[string]any, success bool, opts ...event.Option) (string, error)
	Error(ctx context.Context, code, message, sourceEventID string, details map[string]any, opts ...event.Option) (string, error)
	Publish(ctx context.Context, ev event.Event) (string, error)
	PublishBatch(ctx context.Context, events []event.Event) []BatchResult
}

// BatchResult is the outcome of one event of a batch.
type BatchResult struct {
	EventID string `json:"event_id"`
	Err     error  `json:"-"`
}

// OK reports whether the event was accepted.
func (r BatchResult) OK() bool { return r.Err == nil }

var _ EventPublisher = (*Publisher)(nil)

// Publisher builds typed events stamped with one source and forwards them
// to the bus.
type Publisher struct {
	router Router
	source string
}

func NewPublisher(router Router, source string) *Publisher {
	return &Publisher{router: router, source: source}
}

// Source is the agent name stamped on every built event.
func (p *Publisher) Source() string { return p.source }

func (p *Publisher) Command(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error) {
	opts = prepend(event.WithTarget(target), opts)
	return p.publish(ctx, event.New(event.Command, name, p.source, &event.CommandPayload{
		CommandName: name,
		Parameters:  params,
	}, opts...))
}

func (p *Publisher) Notification(ctx context.Context, name string, data map[string]any, opts ...event.Option) (string, error) {
	return p.publish(ctx, event.New(event.Notification, name, p.source, &event.NotificationPayload{Data: data}, opts...))
}

func (p *Publisher) Query(ctx context.Context, name string, params map[string]any, target string, opts ...event.Option) (string, error) {
	opts = prepend(event.WithTarget(target), opts)
	return p.publish(ctx, event.New(event.Query, name, p.source, &event.QueryPayload{
		QueryName:  name,
		Parameters: params,
	}, opts...))
}

// Response answers queryID. The response is caused by the query, joins its
// correlation and goes back to the query's source. An unknown query still
// gets a response carrying only the causation link.
func (p *Publisher) Response(ctx context.Context, queryID string, data map[string]any, success bool, opts ...event.Option) (string, error) {
	name := "response"
	base := []event.Option{event.WithCausationID(queryID)}

	query, err := p.router.GetEvent(ctx, queryID)
	switch {
	case err == nil:
		name = query.Name + ".response"
		base = append(base,
			event.WithCorrelationID(query.CorrelationID),
			event.WithTarget(query.Source),
		)
	case errors.Is(err, model.ErrNotFound):
	default:
		return "", fmt.Errorf("response to %s: %w", queryID, err)
	}

	return p.publish(ctx, event.New(event.Response, name, p.source, &event.ResponsePayload{
		QueryID: queryID,
		Data:    data,
		Success: success,
	}, append(base, opts...)...))
}

// Error reports a failure. When sourceEventID names a stored event the error
// is caused by it and joins its correlation.
func (p *Publisher) Error(ctx context.Context, code, message, sourceEventID string, details map[string]any, opts ...event.Option) (string, error) {
	var base []event.Option
	if sourceEventID != "" {
		base = append(base, event.WithCausationID(sourceEventID))
		if src, err := p.router.GetEvent(ctx, sourceEventID); err == nil {
			base = append(base, event.WithCorrelationID(src.CorrelationID))
		}
	}

	return p.publish(ctx, event.New(event.Error, code, p.source, &event.ErrorPayload{
		Code:          code,
		Message:       message,
		SourceEventID: sourceEventID,
		Details:       details,
	}, append(base, opts...)...))
}

// Publish forwards a prebuilt event. An empty source is filled in.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) (string, error) {
	if ev.Source == "" {
		ev.Source = p.source
	}
	return p.publish(ctx, ev)
}

// PublishBatch publishes each event independently, in order. A failed event
// does not stop the rest.
func (p *Publisher) PublishBatch(ctx context.Context, events []event.Event) []BatchResult {
	out := make([]BatchResult, len(events))
	for i, ev := range events {
		id, err := p.Publish(ctx, ev)
		if id == "" {
			id = ev.ID
		}
		out[i] = BatchResult{EventID: id, Err: err}
	}
	return out
}

func (p *Publisher) publish(ctx context.Context, ev event.Event) (string, error) {
	return p.router.Publish(ctx, ev)
}

func prepend(first event.Option, rest []event.Option) []event.Option {
	return append([]event.Option{first}, rest...)
}
