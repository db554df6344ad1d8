package pubsub

import (
	"context"
	"log/slog"

	adapter "github.com/webitel/agent-event-bus/internal/adapter/pubsub"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/service"
)

// EgressSubscriberID names the mirror subscription in listings.
const EgressSubscriberID = "agentbus.egress"

// Egress mirrors every routed event onto the broker. It is an ordinary bus
// subscription, so a failing broker publish is retried and eventually
// dead-lettered like any other handler failure.
type Egress struct {
	subscriber *service.Subscriber
	dispatcher adapter.EventDispatcher
	logger     *slog.Logger
	subID      string
}

func NewEgress(hub registry.Hubber, dispatcher adapter.EventDispatcher, logger *slog.Logger) *Egress {
	return &Egress{
		subscriber: service.NewSubscriber(hub, EgressSubscriberID),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (e *Egress) Start() error {
	id, err := e.subscriber.Subscribe(filter.All(), registry.HandlerFunc(e.mirror), service.WithConcurrency(1))
	if err != nil {
		return err
	}
	e.subID = id
	e.logger.Info("EGRESS_MIRROR_STARTED", "subscription_id", id)
	return nil
}

func (e *Egress) Stop() error {
	if e.subID == "" {
		return nil
	}
	return e.subscriber.Unsubscribe(e.subID)
}

func (e *Egress) mirror(ctx context.Context, ev event.Event) error {
	return e.dispatcher.Publish(ctx, ev)
}
