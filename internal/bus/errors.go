package bus

import (
	"errors"
	"fmt"

	"github.com/webitel/agent-event-bus/internal/store"
)

var (
	// ErrClosed is returned by Publish and the re-entry operations once
	// Shutdown has started.
	ErrClosed = errors.New("event bus is closed")

	// ErrInFlight rejects a dead-letter retry while the event still has a
	// dispatch pass running.
	ErrInFlight = errors.New("event has deliveries in flight")

	// ErrNotFound is returned for unknown event and dead-letter ids.
	ErrNotFound = store.ErrNotFound

	// ErrStoreUnavailable is the sentinel behind StoreUnavailableError.
	ErrStoreUnavailable = store.ErrUnavailable
)

// StoreUnavailableError is fatal to one publish call; the bus stays usable.
type StoreUnavailableError = store.UnavailableError

// HandlerFailure is a failed handler attempt. It never leaves the bus; it
// drives the retry policy and ends up as the dead-letter reason.
type HandlerFailure struct {
	SubscriptionID string
	EventID        string
	Attempt        int
	Err            error
}

func (e *HandlerFailure) Error() string {
	return fmt.Sprintf("subscription %s: event %s attempt %d: %v", e.SubscriptionID, e.EventID, e.Attempt+1, e.Err)
}

func (e *HandlerFailure) Unwrap() error { return e.Err }

// errExpired is the failure reason recorded for deliveries past expires_at.
var errExpired = errors.New("expired")

// errShuttingDown is recorded for deliveries the bus never got to start.
var errShuttingDown = errors.New("bus shutting down")

func unavailable(op string, err error) error {
	var ue *store.UnavailableError
	if errors.As(err, &ue) {
		return ue
	}
	return &store.UnavailableError{Op: op, Err: err}
}
