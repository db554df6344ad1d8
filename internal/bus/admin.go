package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/store"
)

// GetEvent returns the latest recorded snapshot of an event.
func (b *Bus) GetEvent(ctx context.Context, id string) (event.Event, error) {
	return b.store.Get(ctx, id)
}

// GetEvents returns stored events matching c, oldest first.
func (b *Bus) GetEvents(ctx context.Context, c store.Criteria) ([]event.Event, error) {
	return b.store.Query(ctx, c)
}

// ReplayResult lists what a replay did with each matching event.
type ReplayResult struct {
	Replayed []string `json:"replayed"`
	// Skipped events still had a pass in flight.
	Skipped []string `json:"skipped"`
}

// ReplayEvents re-runs the dispatch path for every stored event matching c.
// CreatedAt is kept; retry counts reset and published_at is fresh. Events
// with deliveries still in flight are skipped.
func (b *Bus) ReplayEvents(ctx context.Context, c store.Criteria) (ReplayResult, error) {
	res := ReplayResult{Replayed: []string{}, Skipped: []string{}}

	events, err := b.store.Query(ctx, c)
	if err != nil {
		return res, err
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := b.dispatch(ctx, ev, passReplay)
		if errors.Is(err, ErrInFlight) {
			res.Skipped = append(res.Skipped, ev.ID)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("replay %s: %w", ev.ID, err)
		}
		res.Replayed = append(res.Replayed, ev.ID)
	}

	b.logger.Info("EVENTS_REPLAYED",
		"replayed", len(res.Replayed),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// GetDeadLetterEvents lists dead-lettered events, oldest failure first.
func (b *Bus) GetDeadLetterEvents(ctx context.Context) ([]model.DeadLetterEntry, error) {
	return b.store.ListDeadLetters(ctx)
}

// RetryDeadLetterEvent resets the retry count and re-runs routing for a
// dead-lettered event. The entry stays until that pass completes.
func (b *Bus) RetryDeadLetterEvent(ctx context.Context, id string) error {
	b.dlqMu.Lock()
	entry, err := b.store.GetDeadLetter(ctx, id)
	b.dlqMu.Unlock()
	if err != nil {
		return err
	}

	ev, err := b.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		ev = entry.Event
	} else if err != nil {
		return err
	}

	if err := b.dispatch(ctx, ev, passDeadLetter); err != nil {
		return fmt.Errorf("retry dead letter %s: %w", id, err)
	}
	b.logger.Info("DEAD_LETTER_RETRIED", "event_id", id, "attempts", entry.Attempts)
	return nil
}

// ClearDeadLetterEvent permanently discards a dead-letter entry.
func (b *Bus) ClearDeadLetterEvent(ctx context.Context, id string) error {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	if err := b.store.RemoveDeadLetter(ctx, id); err != nil {
		return err
	}
	b.logger.Info("DEAD_LETTER_CLEARED", "event_id", id)
	return nil
}
