package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"go.uber.org/multierr"
)

var _ Store = (*Journal)(nil)

const (
	eventsFile      = "events.jsonl"
	deadLettersFile = "deadletters.jsonl"

	defaultCacheSize = 4096
)

// Journal is the at-rest store: every Append and Update writes one JSON line
// to events.jsonl and the latest line per id wins. Only offsets and the
// fields Query filters on stay in memory; bodies are read back through an
// LRU cache.
type Journal struct {
	mu sync.RWMutex

	events *os.File
	dead   *os.File
	size   int64

	// [INDEX] id → location of the latest record.
	index map[string]*location
	order []string

	// [HOT_PATH] Recently written or read events.
	cache *lru.Cache[string, event.Event]

	deadLetters map[string]model.DeadLetterEntry
	closed      bool
}

type location struct {
	offset int64
	length int
	meta   event.Event // body-less copy used by Query
}

type deadLetterRecord struct {
	Op      string                 `json:"op"`
	EventID string                 `json:"event_id"`
	Entry   *model.DeadLetterEntry `json:"entry,omitempty"`
}

// OpenJournal opens or creates the journal in dir and rebuilds the index.
func OpenJournal(dir string, cacheSize int) (*Journal, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	cache, err := lru.New[string, event.Event](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("journal: cache: %w", err)
	}

	j := &Journal{
		index:       make(map[string]*location),
		cache:       cache,
		deadLetters: make(map[string]model.DeadLetterEntry),
	}

	if j.events, err = os.OpenFile(filepath.Join(dir, eventsFile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644); err != nil {
		return nil, fmt.Errorf("journal: open events: %w", err)
	}
	if j.dead, err = os.OpenFile(filepath.Join(dir, deadLettersFile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644); err != nil {
		_ = j.events.Close()
		return nil, fmt.Errorf("journal: open dead letters: %w", err)
	}

	if err := j.loadEvents(); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.loadDeadLetters(); err != nil {
		_ = j.Close()
		return nil, err
	}

	return j, nil
}

// loadEvents scans the log. A torn final line left by a crash is truncated.
func (j *Journal) loadEvents() error {
	r := bufio.NewReader(j.events)
	var offset int64

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				break
			}
			body := line[:len(line)-1]

			var ev event.Event
			if decodeErr := json.Unmarshal(body, &ev); decodeErr != nil {
				return fmt.Errorf("journal: corrupt record at offset %d: %w", offset, decodeErr)
			}

			j.track(ev, offset, len(body))
			offset += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("journal: read events: %w", err)
		}
	}

	if err := j.events.Truncate(offset); err != nil {
		return fmt.Errorf("journal: truncate torn record: %w", err)
	}
	j.size = offset
	return nil
}

func (j *Journal) loadDeadLetters() error {
	sc := bufio.NewScanner(j.dead)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		var rec deadLetterRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn tail only loses the last dead-letter mutation.
			break
		}
		switch rec.Op {
		case "put":
			if rec.Entry != nil {
				j.deadLetters[rec.EventID] = *rec.Entry
			}
		case "remove":
			delete(j.deadLetters, rec.EventID)
		}
	}
	return sc.Err()
}

func (j *Journal) track(ev event.Event, offset int64, length int) {
	meta := ev.Clone()
	meta.Payload = nil
	meta.MobileOptimization, meta.ConversationContext, meta.DecisionContext = nil, nil, nil

	if _, seen := j.index[ev.ID]; !seen {
		j.order = append(j.order, ev.ID)
	}
	j.index[ev.ID] = &location{offset: offset, length: length, meta: meta}
}

func (j *Journal) write(op string, ev event.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("journal: %s %s: %w", op, ev.ID, err)
	}

	n, err := j.events.Write(append(body, '\n'))
	if err != nil {
		// [TORN_WRITE_GUARD] Drop a partial line so the next write starts clean.
		_ = j.events.Truncate(j.size)
		return &UnavailableError{Op: op, Err: err}
	}

	j.track(ev, j.size, len(body))
	j.size += int64(n)
	j.cache.Add(ev.ID, ev.Clone())
	return nil
}

func (j *Journal) Append(_ context.Context, ev event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &UnavailableError{Op: "append", Err: errClosed}
	}
	if _, ok := j.index[ev.ID]; ok {
		return fmt.Errorf("append %s: %w", ev.ID, ErrDuplicate)
	}
	return j.write("append", ev)
}

func (j *Journal) Update(_ context.Context, ev event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &UnavailableError{Op: "update", Err: errClosed}
	}
	if _, ok := j.index[ev.ID]; !ok {
		return notFound("event", ev.ID)
	}
	return j.write("update", ev)
}

func (j *Journal) Get(_ context.Context, id string) (event.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.get(id)
}

// get requires j.mu held.
func (j *Journal) get(id string) (event.Event, error) {
	loc, ok := j.index[id]
	if !ok {
		return event.Event{}, notFound("event", id)
	}
	if ev, ok := j.cache.Get(id); ok {
		return ev.Clone(), nil
	}
	if j.closed {
		return event.Event{}, &UnavailableError{Op: "get", Err: errClosed}
	}

	buf := make([]byte, loc.length)
	if _, err := j.events.ReadAt(buf, loc.offset); err != nil {
		return event.Event{}, fmt.Errorf("journal: read %s: %w", id, err)
	}

	var ev event.Event
	if err := json.Unmarshal(buf, &ev); err != nil {
		return event.Event{}, fmt.Errorf("journal: decode %s: %w", id, err)
	}
	j.cache.Add(id, ev)
	return ev.Clone(), nil
}

func (j *Journal) Query(_ context.Context, c Criteria) ([]event.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]event.Event, 0)
	for _, id := range j.order {
		if !c.Matches(j.index[id].meta) {
			continue
		}
		ev, err := j.get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return c.Sort(out), nil
}

func (j *Journal) writeDeadLetter(rec deadLetterRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: dead letter %s: %w", rec.EventID, err)
	}
	if _, err := j.dead.Write(append(body, '\n')); err != nil {
		return &UnavailableError{Op: rec.Op + "_dead_letter", Err: err}
	}
	return nil
}

func (j *Journal) PutDeadLetter(_ context.Context, entry model.DeadLetterEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &UnavailableError{Op: "put_dead_letter", Err: errClosed}
	}
	if err := j.writeDeadLetter(deadLetterRecord{Op: "put", EventID: entry.Event.ID, Entry: &entry}); err != nil {
		return err
	}
	j.deadLetters[entry.Event.ID] = entry
	return nil
}

func (j *Journal) GetDeadLetter(_ context.Context, id string) (model.DeadLetterEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.deadLetters[id]
	if !ok {
		return model.DeadLetterEntry{}, notFound("dead letter", id)
	}
	return entry, nil
}

func (j *Journal) ListDeadLetters(_ context.Context) ([]model.DeadLetterEntry, error) {
	j.mu.RLock()
	out := make([]model.DeadLetterEntry, 0, len(j.deadLetters))
	for _, entry := range j.deadLetters {
		out = append(out, entry)
	}
	j.mu.RUnlock()

	return sortDeadLetters(out), nil
}

func (j *Journal) RemoveDeadLetter(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.deadLetters[id]; !ok {
		return notFound("dead letter", id)
	}
	if j.closed {
		return &UnavailableError{Op: "remove_dead_letter", Err: errClosed}
	}
	if err := j.writeDeadLetter(deadLetterRecord{Op: "remove", EventID: id}); err != nil {
		return err
	}
	delete(j.deadLetters, id)
	return nil
}

// Close flushes and closes both files. It is safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	var err error
	for _, f := range []*os.File{j.events, j.dead} {
		if f == nil {
			continue
		}
		err = multierr.Append(err, f.Sync())
		err = multierr.Append(err, f.Close())
	}
	return err
}
