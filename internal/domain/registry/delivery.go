package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// Delivery is one (event, subscription) routing decision waiting for or
// holding a concurrency slot.
type Delivery struct {
	Event          event.Event
	SubscriptionID string
	// Attempt is zero for the first invocation and grows with each retry.
	Attempt int

	// Ctx is handed to the handler. Nil means context.Background.
	Ctx context.Context

	// Start runs once a slot is granted. Returning false releases the slot
	// without invoking the handler (expired or shutting down).
	Start func(d *Delivery) bool
	// Done receives the handler outcome and its wall-clock latency.
	Done func(d *Delivery, err error, took time.Duration)

	seq uint64
}

func (d *Delivery) context() context.Context {
	if d.Ctx != nil {
		return d.Ctx
	}
	return context.Background()
}

// PanicError is what a recovered handler panic turns into.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// queue orders deliveries priority first, then by publish order.
type queue []*Delivery

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Event.Priority != b.Event.Priority {
		return a.Event.Priority > b.Event.Priority
	}
	if !a.Event.PublishedAt.Equal(b.Event.PublishedAt) {
		return a.Event.PublishedAt.Before(b.Event.PublishedAt)
	}
	if a.Event.ID != b.Event.ID {
		return a.Event.ID < b.Event.ID
	}
	return a.seq < b.seq
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*Delivery)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return d
}
