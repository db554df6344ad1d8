// Package store keeps the append-only record of published events and the
// dead-letter queue. The bus is the only writer.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

var (
	// ErrNotFound aliases the shared lookup sentinel.
	ErrNotFound = model.ErrNotFound
	// ErrUnavailable is the sentinel behind every UnavailableError.
	ErrUnavailable = errors.New("event store unavailable")
	// ErrDuplicate rejects a second Append of the same event id.
	ErrDuplicate = errors.New("duplicate event id")
)

// UnavailableError reports that the store could not serve a write.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("event store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// Store is the event log plus dead-letter retention.
type Store interface {
	// Append adds a new event. It never assigns a new identity.
	Append(ctx context.Context, ev event.Event) error
	// Update records a newer snapshot (status, retry count) of a stored event.
	Update(ctx context.Context, ev event.Event) error
	Get(ctx context.Context, id string) (event.Event, error)
	// Query returns matching events ordered by CreatedAt ascending.
	Query(ctx context.Context, c Criteria) ([]event.Event, error)

	PutDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error
	GetDeadLetter(ctx context.Context, id string) (model.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context) ([]model.DeadLetterEntry, error)
	RemoveDeadLetter(ctx context.Context, id string) error

	Close() error
}

// Criteria selects events for Query and replay. Zero fields do not filter.
type Criteria struct {
	Types         []event.Type
	Name          string
	Source        string
	Target        string
	CorrelationID string
	Statuses      []event.Status
	// Start and End bound CreatedAt, both inclusive.
	Start time.Time
	End   time.Time
	Limit int
}

// Matches reports whether ev satisfies every set criterion.
func (c Criteria) Matches(ev event.Event) bool {
	switch {
	case len(c.Types) > 0 && !slices.Contains(c.Types, ev.Type):
		return false
	case c.Name != "" && ev.Name != c.Name:
		return false
	case c.Source != "" && ev.Source != c.Source:
		return false
	case c.Target != "" && ev.Target != c.Target:
		return false
	case c.CorrelationID != "" && ev.CorrelationID != c.CorrelationID:
		return false
	case len(c.Statuses) > 0 && !slices.Contains(c.Statuses, ev.Status):
		return false
	case !c.Start.IsZero() && ev.CreatedAt.Before(c.Start):
		return false
	case !c.End.IsZero() && ev.CreatedAt.After(c.End):
		return false
	}
	return true
}

// Sort orders events by CreatedAt, ties broken by id, then applies Limit.
func (c Criteria) Sort(events []event.Event) []event.Event {
	slices.SortStableFunc(events, func(a, b event.Event) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if c.Limit > 0 && len(events) > c.Limit {
		events = events[:c.Limit]
	}
	return events
}

// sortDeadLetters orders entries oldest failure first.
func sortDeadLetters(entries []model.DeadLetterEntry) []model.DeadLetterEntry {
	slices.SortFunc(entries, func(a, b model.DeadLetterEntry) int {
		if n := a.FailedAt.Compare(b.FailedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.Event.ID, b.Event.ID)
	})
	return entries
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
