package registry

import (
	"context"

	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// Handler is the single contract a subscriber implements. A nil error means
// the delivery succeeded; anything else drives the retry policy.
//
// Handlers must be safe to invoke concurrently up to the subscription's
// concurrency limit. The core never cancels a running handler.
type Handler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, ev event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev event.Event) error { return f(ctx, ev) }
