package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the handler to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Event) error
	Topic(ev event.Event) string
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	prefix    string
}

// NewEventDispatcher mirrors events to "<prefix><event_type>" topics.
func NewEventDispatcher(pub message.Publisher, prefix string) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		prefix:    prefix,
	}
}

func (d *eventDispatcher) Topic(ev event.Event) string {
	return d.prefix + string(ev.Type)
}

func (d *eventDispatcher) Publish(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_id", ev.ID)
	msg.Metadata.Set("event_name", ev.Name)
	msg.Metadata.Set("source", ev.Source)
	middleware.SetCorrelationID(ev.CorrelationID, msg)

	topic := d.Topic(ev)
	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
