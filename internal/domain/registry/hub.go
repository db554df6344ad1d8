package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"go.uber.org/multierr"
)

var (
	ErrNotFound  = model.ErrNotFound
	ErrCancelled = errors.New("subscription cancelled")
)

// Hubber is the view of the subscription table the bus and services depend on.
type Hubber interface {
	Register(subscriberID string, f filter.Filter, h Handler, limit int) (*Subscription, error)
	Get(id string) (*Subscription, error)
	SetState(id string, to State) (*Subscription, error)
	Snapshot() []*Subscription
	List(subscriberID string) []model.SubscriptionInfo
	Shutdown(ctx context.Context) ([]*Delivery, error)
}

var _ Hubber = (*Hub)(nil)

// Hub implements a [SUBSCRIPTION_TABLE] guarded by one RWMutex: the bus
// reads a snapshot per dispatch pass, the subscriber mutates under the
// write lock.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	order []string

	logger *slog.Logger
	config hubConfig
}

type hubConfig struct {
	defaultConcurrency int
	connectorBuffer    int
	now                func() time.Time
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]*Subscription),
		logger: logger,
		config: hubConfig{
			defaultConcurrency: DefaultConcurrency,
			connectorBuffer:    DefaultConnectorBuffer,
			now:                time.Now,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DefaultLimit is the concurrency limit used when a caller passes zero.
func (h *Hub) DefaultLimit() int { return h.config.defaultConcurrency }

// ConnectorBuffer is the mailbox size for tap connectors.
func (h *Hub) ConnectorBuffer() int { return h.config.connectorBuffer }

// Register validates the filter and adds an active subscription.
func (h *Hub) Register(subscriberID string, f filter.Filter, handler Handler, limit int) (*Subscription, error) {
	if err := filter.Check(f); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("register %q: nil handler", subscriberID)
	}
	if limit <= 0 {
		limit = h.config.defaultConcurrency
	}

	sub := &Subscription{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Filter:       f,
		CreatedAt:    h.config.now().UTC(),
		handler:      handler,
		cell:         NewCell(handler, limit, h.logger),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.order = append(h.order, sub.ID)
	h.mu.Unlock()

	h.logger.Info("SUBSCRIPTION_REGISTERED",
		"subscription_id", sub.ID,
		"subscriber_id", subscriberID,
		"filter", f.String(),
		"concurrency_limit", limit,
	)
	return sub, nil
}

func (h *Hub) Get(id string) (*Subscription, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return sub, nil
}

// SetState moves a subscription between active, paused and cancelled.
// Cancelling is idempotent and final; pausing or resuming a cancelled
// subscription returns ErrCancelled.
func (h *Hub) SetState(id string, to State) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}

	from := sub.State()
	if from == to {
		return sub, nil
	}
	if from == StateCancelled {
		return sub, fmt.Errorf("subscription %s: %w", id, ErrCancelled)
	}

	sub.state.Store(int32(to))
	switch to {
	case StatePaused:
		sub.cell.Pause()
	case StateActive, StateCancelled:
		// [DRAIN_ON_CANCEL] Already routed deliveries still run.
		sub.cell.Resume()
	}

	h.logger.Info("SUBSCRIPTION_STATE_CHANGED",
		"subscription_id", id,
		"from", from.String(),
		"to", to.String(),
	)
	return sub, nil
}

// Snapshot returns the active subscriptions in registration order.
func (h *Hub) Snapshot() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Subscription, 0, len(h.order))
	for _, id := range h.order {
		if sub := h.subs[id]; sub.State() == StateActive {
			out = append(out, sub)
		}
	}
	return out
}

// List returns every subscription, optionally narrowed to one subscriber.
func (h *Hub) List(subscriberID string) []model.SubscriptionInfo {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.order))
	for _, id := range h.order {
		if sub := h.subs[id]; subscriberID == "" || sub.SubscriberID == subscriberID {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	out := make([]model.SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Info())
	}
	return out
}

// Shutdown stops every cell and waits for running handlers until ctx is
// done. Deliveries that never started are returned to the caller.
func (h *Hub) Shutdown(ctx context.Context) ([]*Delivery, error) {
	h.mu.RLock()
	cells := make([]*Cell, 0, len(h.subs))
	for _, id := range h.order {
		cells = append(cells, h.subs[id].cell)
	}
	h.mu.RUnlock()

	var dropped []*Delivery
	for _, c := range cells {
		dropped = append(dropped, c.Stop()...)
	}

	var err error
	for _, c := range cells {
		err = multierr.Append(err, c.Wait(ctx))
		if ctx.Err() != nil {
			break
		}
	}
	return dropped, err
}
