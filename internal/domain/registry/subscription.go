package registry

import (
	"sync/atomic"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

// State of a subscription.
type State int32

const (
	StateActive State = iota
	StatePaused
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription binds a filter to a handler for one subscriber. Everything
// but the state is fixed at creation; the state only changes under the
// hub's write lock so a snapshot never sees a half-applied transition.
type Subscription struct {
	ID           string
	SubscriberID string
	Filter       filter.Filter
	CreatedAt    time.Time

	handler Handler
	state   atomic.Int32
	cell    *Cell
}

func (s *Subscription) State() State { return State(s.state.Load()) }

// Handler returns the handler bound to the subscription.
func (s *Subscription) Handler() Handler { return s.handler }

// Push queues a delivery on the subscription's cell.
func (s *Subscription) Push(d *Delivery) bool {
	d.SubscriptionID = s.ID
	return s.cell.Push(d)
}

// Info is the read-only listing view.
func (s *Subscription) Info() model.SubscriptionInfo {
	queued, running := s.cell.Load()
	return model.SubscriptionInfo{
		ID:               s.ID,
		SubscriberID:     s.SubscriberID,
		Filter:           s.Filter.String(),
		State:            s.State().String(),
		ConcurrencyLimit: s.cell.Limit(),
		CreatedAt:        s.CreatedAt,
		Queued:           queued,
		InFlight:         running,
	}
}
