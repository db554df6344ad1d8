package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/agent-event-bus/config"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

func newEvent(t event.Type, name, source, target string, created time.Time) event.Event {
	var p event.Payload
	switch t {
	case event.Command:
		p = &event.CommandPayload{CommandName: name}
	default:
		p = &event.NotificationPayload{Data: map[string]any{"k": "v"}}
	}
	ev := event.New(t, name, source, p, event.WithTarget(target))
	ev.CreatedAt = created
	return ev
}

// storeContract runs the behaviour every Store implementation shares.
func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("append and get", func(t *testing.T) {
		s := open(t)
		ev := newEvent(event.Command, "reserve_inventory", "checkout", "inventory_agent", base)

		require.NoError(t, s.Append(ctx, ev))
		got, err := s.Get(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, ev.Type, got.Type)
		assert.Equal(t, ev.Payload, got.Payload)

		assert.ErrorIs(t, s.Append(ctx, ev), ErrDuplicate)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update keeps latest snapshot", func(t *testing.T) {
		s := open(t)
		ev := newEvent(event.Notification, "n", "a", "", base)
		require.NoError(t, s.Append(ctx, ev))

		ev.Status = event.StatusCompleted
		ev.RetryCount = 2
		require.NoError(t, s.Update(ctx, ev))

		got, err := s.Get(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, event.StatusCompleted, got.Status)
		assert.Equal(t, 2, got.RetryCount)

		assert.ErrorIs(t, s.Update(ctx, newEvent(event.Notification, "x", "a", "", base)), ErrNotFound)
	})

	t.Run("query filters, orders and limits", func(t *testing.T) {
		s := open(t)
		late := newEvent(event.Command, "c2", "planner", "inventory_agent", base.Add(2*time.Minute))
		early := newEvent(event.Command, "c1", "planner", "inventory_agent", base)
		other := newEvent(event.Notification, "n1", "shipping", "", base.Add(time.Minute))

		for _, ev := range []event.Event{late, early, other} {
			require.NoError(t, s.Append(ctx, ev))
		}

		got, err := s.Query(ctx, Criteria{Types: []event.Type{event.Command}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, early.ID, got[0].ID, "ordered by created_at ascending")
		assert.Equal(t, late.ID, got[1].ID)

		got, err = s.Query(ctx, Criteria{})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = s.Query(ctx, Criteria{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, other.ID, got[1].ID)

		got, err = s.Query(ctx, Criteria{Source: "shipping"})
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = s.Query(ctx, Criteria{Target: "inventory_agent", Start: base.Add(time.Second)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, late.ID, got[0].ID)

		got, err = s.Query(ctx, Criteria{End: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("dead letters", func(t *testing.T) {
		s := open(t)
		ev := newEvent(event.Command, "c", "a", "b", base)
		entry := model.DeadLetterEntry{Event: ev, LastError: "boom", FailedAt: base, Attempts: 4}

		require.NoError(t, s.PutDeadLetter(ctx, entry))
		got, err := s.GetDeadLetter(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, "boom", got.LastError)
		assert.Equal(t, 4, got.Attempts)

		list, err := s.ListDeadLetters(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.RemoveDeadLetter(ctx, ev.ID))
		assert.ErrorIs(t, s.RemoveDeadLetter(ctx, ev.ID), ErrNotFound)
		_, err = s.GetDeadLetter(ctx, ev.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("closed store rejects writes", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())

		err := s.Append(ctx, newEvent(event.Notification, "n", "a", "", base))
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestMemory(t *testing.T) {
	storeContract(t, func(*testing.T) Store { return NewMemory() })
}

func TestJournal(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		j, err := OpenJournal(t.TempDir(), 2)
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		return j
	})
}

func TestCriteria_Statuses(t *testing.T) {
	ev := event.New(event.Notification, "n", "a", &event.NotificationPayload{})
	ev.Status = event.StatusDeadLettered

	assert.True(t, Criteria{Statuses: []event.Status{event.StatusDeadLettered}}.Matches(ev))
	assert.False(t, Criteria{Statuses: []event.Status{event.StatusCompleted}}.Matches(ev))
	assert.True(t, Criteria{CorrelationID: ev.ID}.Matches(ev))
}

type flakyStore struct {
	*Memory
	fail bool
}

func (f *flakyStore) Append(ctx context.Context, ev event.Event) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Append(ctx, ev)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flaky := &flakyStore{Memory: NewMemory(), fail: true}
	b := NewBreaker(flaky, "test", BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour}, logger)

	ev := func() event.Event { return event.New(event.Notification, "n", "a", &event.NotificationPayload{}) }

	require.Error(t, b.Append(ctx, ev()))
	require.Error(t, b.Append(ctx, ev()))
	assert.Equal(t, "open", b.State())

	flaky.fail = false
	err := b.Append(ctx, ev())
	assert.ErrorIs(t, err, ErrUnavailable, "open circuit fails fast even though the store recovered")

	// Not-found lookups do not count as failures.
	nb := NewBreaker(NewMemory(), "reads", BreakerConfig{MaxFailures: 1, OpenTimeout: time.Hour}, logger)
	assert.ErrorIs(t, nb.RemoveDeadLetter(ctx, "nope"), ErrNotFound)
	assert.Equal(t, "closed", nb.State())
}

func TestOpen_Drivers(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	s, err := Open(config.StoreConfig{Driver: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(config.StoreConfig{
		Driver:    "journal",
		Path:      t.TempDir(),
		CacheSize: 16,
		Breaker:   config.BreakerConfig{Enabled: true, MaxFailures: 2},
	}, logger)
	require.NoError(t, err)
	require.IsType(t, &Breaker{}, s)
	assert.Equal(t, "closed", s.(*Breaker).State())
	require.NoError(t, s.Close())

	_, err = Open(config.StoreConfig{Driver: "redis"}, logger)
	assert.Error(t, err)
}
