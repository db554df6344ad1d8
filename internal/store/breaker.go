package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
)

var _ Store = (*Breaker)(nil)

// BreakerConfig tunes the circuit around store writes.
type BreakerConfig struct {
	// MaxFailures consecutive write failures open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// Breaker wraps writes to the next store in a circuit breaker. While the
// circuit is open writes fail fast with an UnavailableError instead of
// piling up on a failing disk. Reads pass straight through.
type Breaker struct {
	Store
	cb *gobreaker.CircuitBreaker
}

// NewBreaker decorates next with a circuit named name.
func NewBreaker(next Store, name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// [CALLER_ERRORS] Unknown ids and duplicates say nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("STORE_CIRCUIT_STATE_CHANGED",
				"circuit", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Breaker{Store: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) guard(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &UnavailableError{Op: op, Err: err}
	}
	return err
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Append(ctx context.Context, ev event.Event) error {
	return b.guard("append", func() error { return b.Store.Append(ctx, ev) })
}

func (b *Breaker) Update(ctx context.Context, ev event.Event) error {
	return b.guard("update", func() error { return b.Store.Update(ctx, ev) })
}

func (b *Breaker) PutDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error {
	return b.guard("put_dead_letter", func() error { return b.Store.PutDeadLetter(ctx, entry) })
}

func (b *Breaker) RemoveDeadLetter(ctx context.Context, id string) error {
	return b.guard("remove_dead_letter", func() error { return b.Store.RemoveDeadLetter(ctx, id) })
}
