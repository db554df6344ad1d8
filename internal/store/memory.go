package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

var _ Store = (*Memory)(nil)

var errClosed = errors.New("store closed")

// Memory is the in-process store: an append-ordered id log, an id index and
// the dead-letter map behind one RWMutex.
type Memory struct {
	mu     sync.RWMutex
	log    []string
	events map[string]event.Event
	dead   map[string]model.DeadLetterEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]event.Event),
		dead:   make(map[string]model.DeadLetterEntry),
	}
}

func (m *Memory) Append(_ context.Context, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &UnavailableError{Op: "append", Err: errClosed}
	}
	if _, ok := m.events[ev.ID]; ok {
		return fmt.Errorf("append %s: %w", ev.ID, ErrDuplicate)
	}

	m.log = append(m.log, ev.ID)
	m.events[ev.ID] = ev.Clone()
	return nil
}

func (m *Memory) Update(_ context.Context, ev event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &UnavailableError{Op: "update", Err: errClosed}
	}
	if _, ok := m.events[ev.ID]; !ok {
		return notFound("event", ev.ID)
	}

	m.events[ev.ID] = ev.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return event.Event{}, notFound("event", id)
	}
	return ev.Clone(), nil
}

func (m *Memory) Query(_ context.Context, c Criteria) ([]event.Event, error) {
	m.mu.RLock()
	out := make([]event.Event, 0)
	for _, id := range m.log {
		if ev := m.events[id]; c.Matches(ev) {
			out = append(out, ev.Clone())
		}
	}
	m.mu.RUnlock()

	return c.Sort(out), nil
}

func (m *Memory) PutDeadLetter(_ context.Context, entry model.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &UnavailableError{Op: "put_dead_letter", Err: errClosed}
	}
	m.dead[entry.Event.ID] = entry
	return nil
}

func (m *Memory) GetDeadLetter(_ context.Context, id string) (model.DeadLetterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.dead[id]
	if !ok {
		return model.DeadLetterEntry{}, notFound("dead letter", id)
	}
	return entry, nil
}

func (m *Memory) ListDeadLetters(_ context.Context) ([]model.DeadLetterEntry, error) {
	m.mu.RLock()
	out := make([]model.DeadLetterEntry, 0, len(m.dead))
	for _, entry := range m.dead {
		out = append(out, entry)
	}
	m.mu.RUnlock()

	return sortDeadLetters(out), nil
}

func (m *Memory) RemoveDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dead[id]; !ok {
		return notFound("dead letter", id)
	}
	delete(m.dead, id)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
