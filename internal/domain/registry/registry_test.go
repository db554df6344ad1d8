package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func note(name string, p event.Priority, published time.Time) event.Event {
	ev := event.New(event.Notification, name, "test", &event.NotificationPayload{}, event.WithPriority(p))
	ev.PublishedAt = published
	return ev
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestCell_PriorityAfterResume(t *testing.T) {
	rec := &recorder{}
	done := make(chan struct{}, 8)
	c := NewCell(HandlerFunc(func(_ context.Context, ev event.Event) error {
		rec.add(ev.Name)
		return nil
	}), 1, discard())

	c.Pause()
	base := time.Now()
	for _, ev := range []event.Event{
		note("low", event.PriorityLow, base),
		note("medium-1", event.PriorityMedium, base.Add(time.Millisecond)),
		note("critical", event.PriorityCritical, base.Add(2*time.Millisecond)),
		note("medium-0", event.PriorityMedium, base.Add(-time.Millisecond)),
	} {
		require.True(t, c.Push(&Delivery{Event: ev, Done: func(*Delivery, error, time.Duration) { done <- struct{}{} }}))
	}

	queued, running := c.Load()
	assert.Equal(t, 4, queued)
	assert.Zero(t, running, "a paused cell starts nothing")

	c.Resume()
	for range 4 {
		<-done
	}
	assert.Equal(t, []string{"critical", "medium-0", "medium-1", "low"}, rec.get())
}

func TestCell_ConcurrencyLimit(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	release := make(chan struct{})
	var wg sync.WaitGroup

	c := NewCell(HandlerFunc(func(context.Context, event.Event) error {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()

		<-release

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}), 2, discard())

	for i := range 6 {
		wg.Add(1)
		c.Push(&Delivery{
			Event: note("n", event.PriorityMedium, time.Now().Add(time.Duration(i))),
			Done:  func(*Delivery, error, time.Duration) { wg.Done() },
		})
	}

	require.Eventually(t, func() bool {
		_, running := c.Load()
		return running == 2
	}, time.Second, time.Millisecond)
	queued, _ := c.Load()
	assert.Equal(t, 4, queued)

	close(release)
	wg.Wait()
	assert.Equal(t, 2, peak)
}

func TestCell_RecoversPanicsAndSkipsRefusedStarts(t *testing.T) {
	errs := make(chan error, 1)
	c := NewCell(HandlerFunc(func(context.Context, event.Event) error {
		panic("kaboom")
	}), 1, discard())

	c.Push(&Delivery{
		Event: note("p", event.PriorityMedium, time.Now()),
		Done:  func(_ *Delivery, err error, _ time.Duration) { errs <- err },
	})

	var pe *PanicError
	require.ErrorAs(t, <-errs, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	called := make(chan struct{}, 1)
	c.Push(&Delivery{
		Event: note("skip", event.PriorityMedium, time.Now()),
		Start: func(*Delivery) bool { return false },
		Done:  func(*Delivery, error, time.Duration) { called <- struct{}{} },
	})
	require.NoError(t, c.Wait(context.Background()))
	assert.Empty(t, called)
}

func TestCell_StopReturnsPending(t *testing.T) {
	c := NewCell(HandlerFunc(func(context.Context, event.Event) error { return nil }), 1, discard())
	c.Pause()
	c.Push(&Delivery{Event: note("a", event.PriorityLow, time.Now())})
	c.Push(&Delivery{Event: note("b", event.PriorityHigh, time.Now())})

	left := c.Stop()
	require.Len(t, left, 2)
	assert.Equal(t, "b", left[0].Event.Name)
	assert.False(t, c.Push(&Delivery{Event: note("c", event.PriorityLow, time.Now())}))
}

func TestHub_Lifecycle(t *testing.T) {
	h := NewHub(discard(), WithDefaultConcurrency(3))
	nop := HandlerFunc(func(context.Context, event.Event) error { return nil })

	_, err := h.Register("agent", filter.Name{}, nop, 0)
	require.ErrorIs(t, err, filter.ErrInvalidFilter)
	_, err = h.Register("agent", nil, nop, 0)
	require.ErrorIs(t, err, filter.ErrInvalidFilter)

	a, err := h.Register("agent-a", filter.Type{event.Command}, nop, 0)
	require.NoError(t, err)
	b, err := h.Register("agent-b", filter.All(), nop, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Info().ConcurrencyLimit)

	assert.Len(t, h.Snapshot(), 2)

	_, err = h.SetState(a.ID, StatePaused)
	require.NoError(t, err)
	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, b.ID, snap[0].ID)

	_, err = h.SetState(a.ID, StateActive)
	require.NoError(t, err)
	assert.Len(t, h.Snapshot(), 2)

	for range 2 {
		sub, err := h.SetState(b.ID, StateCancelled)
		require.NoError(t, err)
		assert.Equal(t, StateCancelled, sub.State())
	}
	_, err = h.SetState(b.ID, StateActive)
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = h.SetState("nope", StatePaused)
	assert.ErrorIs(t, err, ErrNotFound)

	infos := h.List("agent-a")
	require.Len(t, infos, 1)
	assert.Equal(t, "active", infos[0].State)
	assert.Len(t, h.List(""), 2)
}

func TestConnector_Backpressure(t *testing.T) {
	c := NewConnector(context.Background(), 1, ConnectMetadata{})
	defer c.Close()

	require.True(t, c.Send(note("first", event.PriorityLow, time.Now()), time.Millisecond))
	assert.False(t, c.Send(note("second", event.PriorityLow, time.Now()), time.Millisecond))
	assert.True(t, c.Send(note("urgent", event.PriorityCritical, time.Now()), time.Millisecond))

	got := <-c.Recv()
	assert.Equal(t, "urgent", got.Name)
	assert.Equal(t, uint64(2), c.Dropped())

	c.Close()
	assert.False(t, c.Send(note("late", event.PriorityCritical, time.Now()), time.Millisecond))
	_, open := <-c.Recv()
	assert.False(t, open)
	<-c.Done()
}
