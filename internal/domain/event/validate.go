package event

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is the sentinel behind every InvalidEventError.
var ErrInvalidEvent = errors.New("invalid event")

// InvalidEventError reports a malformed event. It is never retried.
type InvalidEventError struct {
	EventID string
	Reason  string
}

func (e *InvalidEventError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("invalid event: %s", e.Reason)
	}
	return fmt.Sprintf("invalid event %s: %s", e.EventID, e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

type missingFieldError string

func (f missingFieldError) Error() string { return fmt.Sprintf("payload field %q is required", string(f)) }

func fieldError(name string) error { return missingFieldError(name) }

// errNilPayload rejects a typed nil payload pointer.
var errNilPayload = errors.New("payload is nil")

// Validate checks the event is well formed for its type.
func (e Event) Validate() error {
	invalid := func(format string, args ...any) error {
		return &InvalidEventError{EventID: e.ID, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case e.ID == "":
		return invalid("event_id is required")
	case !e.Type.Valid():
		return invalid("unknown event_type %q", e.Type)
	case e.Name == "":
		return invalid("event_name is required")
	case e.Source == "":
		return invalid("source is required")
	case !e.Priority.Valid():
		return invalid("unknown priority %d", int32(e.Priority))
	case e.SchemaVersion < 1:
		return invalid("schema_version must be positive, got %d", e.SchemaVersion)
	case e.MaxRetries < UseBusDefault:
		return invalid("max_retries must not be negative, got %d", e.MaxRetries)
	case e.Status != "" && !e.Status.Valid():
		return invalid("unknown status %q", e.Status)
	case e.ExpiresAt != nil && !e.CreatedAt.IsZero() && e.ExpiresAt.Before(e.CreatedAt):
		return invalid("expires_at precedes created_at")
	}

	if e.Payload == nil {
		return invalid("payload is required for %s events", e.Type)
	}
	if e.Payload.Kind() != e.Type {
		return invalid("%s payload attached to %s event", e.Payload.Kind(), e.Type)
	}
	if err := e.Payload.validate(); err != nil {
		return invalid("%s", err.Error())
	}

	return nil
}
