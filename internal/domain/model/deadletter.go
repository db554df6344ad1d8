package model

import (
	"slices"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// DeadLetterEntry is an event that exhausted its retry budget, plus the
// failure that put it there. It stays until a dead-letter retry completes
// or an operator clears it.
type DeadLetterEntry struct {
	Event           event.Event `json:"event"`
	SubscriptionIDs []string    `json:"subscription_ids"`
	LastError       string      `json:"last_error"`
	FailedAt        time.Time   `json:"failed_at"`
	Attempts        int         `json:"attempts"`
}

// Merge folds a newer failure of the same event into the entry.
func (d DeadLetterEntry) Merge(next DeadLetterEntry) DeadLetterEntry {
	out := next
	out.SubscriptionIDs = slices.Clone(d.SubscriptionIDs)
	for _, id := range next.SubscriptionIDs {
		if !slices.Contains(out.SubscriptionIDs, id) {
			out.SubscriptionIDs = append(out.SubscriptionIDs, id)
		}
	}
	if d.Attempts > out.Attempts {
		out.Attempts = d.Attempts
	}
	return out
}
