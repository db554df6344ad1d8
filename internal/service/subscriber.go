package service

import (
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
)

// [SUBSCRIBER] SUBSCRIPTION LIFECYCLE FOR ONE AGENT
type Subscriber struct {
	hub          registry.Hubber
	subscriberID string
}

// NewSubscriber returns a subscriber registering under subscriberID.
func NewSubscriber(hub registry.Hubber, subscriberID string) *Subscriber {
	return &Subscriber{hub: hub, subscriberID: subscriberID}
}

type subscribeOptions struct {
	concurrency int
}

type SubscribeOption func(*subscribeOptions)

// WithConcurrency bounds parallel handler invocations for the subscription.
// Zero or less keeps the hub default.
func WithConcurrency(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.concurrency = n }
}

// Subscribe registers handler for every event f matches and returns the
// subscription id. A malformed filter fails with *filter.InvalidFilterError.
func (s *Subscriber) Subscribe(f filter.Filter, handler registry.Handler, opts ...SubscribeOption) (string, error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := s.hub.Register(s.subscriberID, f, handler, o.concurrency)
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

// Pause stops matching new events. Queued deliveries wait for Resume.
func (s *Subscriber) Pause(id string) error {
	_, err := s.hub.SetState(id, registry.StatePaused)
	return err
}

func (s *Subscriber) Resume(id string) error {
	_, err := s.hub.SetState(id, registry.StateActive)
	return err
}

// Unsubscribe cancels the subscription for good. Calling it again is a no-op.
func (s *Subscriber) Unsubscribe(id string) error {
	_, err := s.hub.SetState(id, registry.StateCancelled)
	return err
}

// Subscriptions lists subscriptions of subscriberID, or all when empty.
func (s *Subscriber) Subscriptions(subscriberID string) []model.SubscriptionInfo {
	return s.hub.List(subscriberID)
}
