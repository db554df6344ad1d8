// Package bus is the router and delivery-guarantee engine: it persists
// published events, matches them against the active subscriptions, hands
// one delivery per match to the subscription's cell and drives every
// delivery through retry and dead-letter handling.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Bus owns the event store and the dead-letter queue. Construct one per
// process (or per test) and hand it to publishers and subscribers.
type Bus struct {
	store  store.Store
	hub    registry.Hubber
	logger *slog.Logger
	opts   options

	// [PUBLISH_ORDER] Serializes published_at assignment, the store append
	// and the subscription snapshot per event.
	publishMu     sync.Mutex
	lastPublished time.Time

	// trackers holds event id → *tracker for events with a pass in flight.
	trackMu  sync.Mutex
	trackers map[string]*tracker
	active   atomic.Int64

	// dlqMu serializes read-modify-write of dead-letter entries.
	dlqMu sync.Mutex

	closed   atomic.Bool
	counters counters
	started  time.Time
}

// New builds a bus over s and the subscription table hub.
func New(s store.Store, hub registry.Hubber, logger *slog.Logger, opts ...Option) (*Bus, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBackoff < o.baseBackoff {
		o.maxBackoff = o.baseBackoff
	}

	b := &Bus{
		store:    s,
		hub:      hub,
		logger:   logger,
		opts:     o,
		trackers: make(map[string]*tracker),
		started:  o.now(),
	}
	if err := b.counters.register(o.meter); err != nil {
		return nil, fmt.Errorf("bus: register metrics: %w", err)
	}
	return b, nil
}

// Publish validates ev, stores it and schedules routing. It returns once
// the event is stored; handlers run asynchronously.
func (b *Bus) Publish(ctx context.Context, ev event.Event) (string, error) {
	if ev.Status == "" {
		ev.Status = event.StatusCreated
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if ev.Status != event.StatusCreated {
		return "", &event.InvalidEventError{EventID: ev.ID, Reason: fmt.Sprintf("cannot publish an event in status %s", ev.Status)}
	}

	if err := b.dispatch(ctx, ev.Clone(), passPublish); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (b *Bus) maxRetriesFor(ev event.Event) int {
	if ev.MaxRetries >= 0 {
		return ev.MaxRetries
	}
	return b.opts.maxRetries
}

func (b *Bus) newBackoff() *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     b.opts.baseBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         b.opts.maxBackoff,
	}
	bo.Reset()
	return bo
}

// nextPublishedAt is strictly increasing. Requires publishMu.
func (b *Bus) nextPublishedAt() time.Time {
	t := b.opts.now().Round(0).UTC()
	if !t.After(b.lastPublished) {
		t = b.lastPublished.Add(time.Nanosecond)
	}
	b.lastPublished = t
	return t
}

// dispatch is the one path every pass goes through: first publish, replay
// and dead-letter retry.
func (b *Bus) dispatch(ctx context.Context, ev event.Event, p pass) error {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if b.closed.Load() {
		return ErrClosed
	}
	// Trackers are registered under publishMu too, so re-entry cannot race.
	if p != passPublish && b.tracking(ev.ID) {
		return ErrInFlight
	}

	ev.PublishedAt = b.nextPublishedAt()
	ev.RetryCount = 0
	if p == passPublish {
		if err := ev.Transition(event.StatusPublished); err != nil {
			return err
		}
		if err := b.store.Append(ctx, ev); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return &event.InvalidEventError{EventID: ev.ID, Reason: "event id already published"}
			}
			return unavailable("append", err)
		}
	} else {
		// [REENTRY] A new pass starts from published whatever the last one left.
		ev.Status = event.StatusPublished
		if err := b.store.Update(ctx, ev); err != nil {
			return unavailable("update", err)
		}
	}
	b.counters.published.Add(1)

	log := b.logger.With(
		"event_id", ev.ID,
		"event_type", ev.Type,
		"event_name", ev.Name,
		"correlation_id", ev.CorrelationID,
		"pass", p.String(),
	)

	if ev.Expired(ev.PublishedAt) {
		b.counters.expired.Add(1)
		b.counters.failed.Add(1)
		_ = ev.Transition(event.StatusFailed)
		b.writeBack(ev)
		log.Warn("EVENT_EXPIRED", "expires_at", ev.ExpiresAt)
		return nil
	}

	matched := b.match(ev, log)
	if len(matched) == 0 {
		_ = ev.Transition(event.StatusCompleted)
		b.writeBack(ev)
		if p == passDeadLetter {
			b.resolveDeadLetter(ev.ID)
		}
		log.Debug("EVENT_PUBLISHED_NO_SUBSCRIBERS")
		return nil
	}

	tr := newTracker(ev, p, b.maxRetriesFor(ev), matched, b.newBackoff)
	b.track(tr)

	log.Debug("EVENT_PUBLISHED", "matched", len(matched), "priority", ev.Priority.String())

	for _, sub := range matched {
		r := tr.routes[sub.ID]
		if !sub.Push(b.delivery(tr, r, ev)) {
			b.settle(tr, r, event.StatusFailed, errShuttingDown)
		}
	}
	return nil
}

// match evaluates every active subscription's filter against ev. Filter
// errors are logged and count as a non-match for that subscription only.
func (b *Bus) match(ev event.Event, log *slog.Logger) []*registry.Subscription {
	subs := b.hub.Snapshot()
	matched := make([]*registry.Subscription, 0, len(subs))

	for _, sub := range subs {
		probe := ev
		ok, err := sub.Filter.Match(&probe)
		if err != nil {
			b.counters.filterErrors.Add(1)
			log.Warn("FILTER_EVALUATION_FAILED",
				"subscription_id", sub.ID,
				"filter", sub.Filter.String(),
				"error", err,
			)
			continue
		}
		if ok {
			matched = append(matched, sub)
		}
	}
	return matched
}

func (b *Bus) track(tr *tracker) {
	b.trackMu.Lock()
	b.trackers[tr.ev.ID] = tr
	b.trackMu.Unlock()
	b.active.Add(1)
}

func (b *Bus) untrack(tr *tracker) {
	b.trackMu.Lock()
	if b.trackers[tr.ev.ID] == tr {
		delete(b.trackers, tr.ev.ID)
		b.active.Add(-1)
	}
	b.trackMu.Unlock()
}

func (b *Bus) tracking(id string) bool {
	b.trackMu.Lock()
	defer b.trackMu.Unlock()
	_, ok := b.trackers[id]
	return ok
}

func (b *Bus) inFlight() int { return int(b.active.Load()) }

// delivery builds the cell work item for route r.
func (b *Bus) delivery(tr *tracker, r *route, ev event.Event) *registry.Delivery {
	return &registry.Delivery{
		Event:   ev,
		Attempt: r.retries,
		Start:   func(d *registry.Delivery) bool { return b.start(tr, r, d) },
		Done: func(d *registry.Delivery, err error, took time.Duration) {
			b.done(tr, r, d, err, took)
		},
	}
}

// start runs when the cell grants a slot.
func (b *Bus) start(tr *tracker, r *route, d *registry.Delivery) bool {
	if d.Event.Expired(b.opts.now()) {
		b.counters.expired.Add(1)
		b.counters.failed.Add(1)
		b.logger.Warn("DELIVERY_EXPIRED",
			"event_id", d.Event.ID,
			"subscription_id", r.sub.ID,
		)
		b.settle(tr, r, event.StatusFailed, errExpired)
		return false
	}

	tr.mu.Lock()
	r.status = event.StatusProcessing
	d.Event.Status = event.StatusProcessing
	d.Event.RetryCount = r.retries
	b.refresh(tr)
	tr.mu.Unlock()

	b.counters.delivered.Add(1)

	ctx, _ := b.opts.tracer.Start(context.Background(), "agentbus.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("agentbus.event_id", d.Event.ID),
			attribute.String("agentbus.event_type", string(d.Event.Type)),
			attribute.String("agentbus.event_name", d.Event.Name),
			attribute.String("agentbus.correlation_id", d.Event.CorrelationID),
			attribute.String("agentbus.subscription_id", r.sub.ID),
			attribute.Int("agentbus.attempt", d.Attempt+1),
		),
	)
	d.Ctx = ctx
	return true
}

// done receives a handler outcome and applies the retry policy.
func (b *Bus) done(tr *tracker, r *route, d *registry.Delivery, err error, took time.Duration) {
	span := trace.SpanFromContext(d.Ctx)
	defer span.End()

	b.counters.observeLatency(d.Ctx, r.sub.ID, took)

	if err == nil {
		b.counters.completed.Add(1)
		span.SetStatus(codes.Ok, "")
		b.settle(tr, r, event.StatusCompleted, nil)
		return
	}

	failure := &HandlerFailure{SubscriptionID: r.sub.ID, EventID: d.Event.ID, Attempt: d.Attempt, Err: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	b.counters.failed.Add(1)

	tr.mu.Lock()
	if tr.abandoned {
		tr.mu.Unlock()
		return
	}
	if r.retries >= tr.maxRetries {
		tr.mu.Unlock()
		b.counters.deadLettered.Add(1)
		b.settle(tr, r, event.StatusDeadLettered, failure)
		return
	}

	r.retries++
	r.status = event.StatusRetrying
	r.lastErr = failure
	delay := r.backoff.NextBackOff()
	if !b.closed.Load() {
		attempt := d.Event
		r.timer = time.AfterFunc(delay, func() { b.redeliver(tr, r, attempt) })
	}
	retries := r.retries
	b.refresh(tr)
	tr.mu.Unlock()

	b.counters.retried.Add(1)
	b.logger.Warn("DELIVERY_RETRY_SCHEDULED",
		"event_id", d.Event.ID,
		"subscription_id", r.sub.ID,
		"retry_count", retries,
		"max_retries", tr.maxRetries,
		"delay", delay,
		"error", err,
	)
}

// redeliver puts a retrying route back on its subscription's queue.
func (b *Bus) redeliver(tr *tracker, r *route, ev event.Event) {
	tr.mu.Lock()
	r.timer = nil
	if tr.abandoned || b.closed.Load() || r.status != event.StatusRetrying {
		tr.mu.Unlock()
		return
	}
	r.status = event.StatusPublished
	d := b.delivery(tr, r, ev)
	tr.mu.Unlock()

	if !r.sub.Push(d) {
		b.settle(tr, r, event.StatusFailed, errShuttingDown)
	}
}

// settle records a final route outcome.
func (b *Bus) settle(tr *tracker, r *route, status event.Status, cause error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.abandoned || r.settled() {
		return
	}
	r.status = status
	if cause != nil {
		r.lastErr = cause
	}

	if status == event.StatusDeadLettered {
		b.deadLetter(tr, r)
	}
	b.refresh(tr)
}

// refresh recomputes the event status and writes it back. Requires tr.mu.
func (b *Bus) refresh(tr *tracker) {
	if tr.abandoned {
		return
	}
	status, final := tr.aggregate()
	prev, prevRetries := tr.ev.Status, tr.ev.RetryCount
	tr.ev.RetryCount = tr.retryCount()
	if status == prev && tr.ev.RetryCount == prevRetries && !final {
		return
	}

	if status != prev && !walk(&tr.ev, status) {
		b.logger.Error("EVENT_STATUS_UNREACHABLE",
			"event_id", tr.ev.ID,
			"from", prev,
			"to", status,
		)
		tr.ev.Status = status
	}
	b.writeBack(tr.ev)

	if !final {
		return
	}
	b.untrack(tr)

	if tr.pass == passDeadLetter && status == event.StatusCompleted {
		b.resolveDeadLetter(tr.ev.ID)
	}

	b.logger.Info("EVENT_SETTLED",
		"event_id", tr.ev.ID,
		"status", status,
		"retry_count", tr.ev.RetryCount,
		"pass", tr.pass.String(),
	)
}

// resolveDeadLetter drops the entry of an event whose dead-letter retry
// completed.
func (b *Bus) resolveDeadLetter(id string) {
	b.dlqMu.Lock()
	err := b.store.RemoveDeadLetter(context.Background(), id)
	b.dlqMu.Unlock()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		b.logger.Error("DEAD_LETTER_REMOVE_FAILED", "event_id", id, "error", err)
	}
}

// deadLetter stores or merges the entry for the event. Requires tr.mu.
func (b *Bus) deadLetter(tr *tracker, r *route) {
	snap := tr.ev.Clone()
	snap.RetryCount = r.retries
	snap.Status = event.StatusDeadLettered

	reason := ""
	if r.lastErr != nil {
		reason = r.lastErr.Error()
	}
	entry := model.DeadLetterEntry{
		Event:           snap,
		SubscriptionIDs: []string{r.sub.ID},
		LastError:       reason,
		FailedAt:        b.opts.now().UTC(),
		Attempts:        r.retries + 1,
	}

	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	ctx := context.Background()
	if prev, err := b.store.GetDeadLetter(ctx, snap.ID); err == nil {
		entry = prev.Merge(entry)
	}
	if err := b.store.PutDeadLetter(ctx, entry); err != nil {
		b.logger.Error("DEAD_LETTER_WRITE_FAILED", "event_id", snap.ID, "error", err)
		return
	}

	b.logger.Error("EVENT_DEAD_LETTERED",
		"event_id", snap.ID,
		"subscription_id", r.sub.ID,
		"attempts", entry.Attempts,
		"last_error", reason,
	)
}

// writeBack records the latest event snapshot. A failing store is logged;
// routing carries on with the in-memory state.
func (b *Bus) writeBack(ev event.Event) {
	if err := b.store.Update(context.Background(), ev); err != nil {
		b.logger.Warn("STATUS_WRITE_BACK_FAILED",
			"event_id", ev.ID,
			"status", ev.Status,
			"error", err,
		)
	}
}
