package event

import "fmt"

// Status is the delivery lifecycle of an event.
type Status string

const (
	StatusCreated      Status = "created"
	StatusPublished    Status = "published"
	StatusDelivered    Status = "delivered"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRetrying     Status = "retrying"
	StatusDeadLettered Status = "dead_lettered"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusCreated, StatusPublished, StatusDelivered, StatusProcessing,
	StatusCompleted, StatusFailed, StatusRetrying, StatusDeadLettered,
}

// transitions is the lifecycle state machine.
//
//	created → published → delivered → processing → {completed | failed}
//	failed → retrying → delivered          (while retries remain)
//	failed → dead_lettered                 (retries exhausted)
//	published|delivered|retrying → failed  (expired or shut down before running)
//	completed|failed|retrying|dead_lettered → published  (replay, dead-letter retry)
var transitions = map[Status][]Status{
	StatusCreated:      {StatusPublished},
	StatusPublished:    {StatusDelivered, StatusCompleted, StatusFailed},
	StatusDelivered:    {StatusProcessing, StatusFailed},
	StatusProcessing:   {StatusCompleted, StatusFailed},
	StatusFailed:       {StatusRetrying, StatusDeadLettered, StatusPublished},
	StatusRetrying:     {StatusDelivered, StatusFailed, StatusPublished},
	StatusCompleted:    {StatusPublished},
	StatusDeadLettered: {StatusPublished},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition happens without an
// explicit replay or dead-letter retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal lifecycle step.
type TransitionError struct {
	EventID  string
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %s: illegal status transition %s -> %s", e.EventID, e.From, e.To)
}

// Transition moves the event to the next status or reports why it cannot.
func (e *Event) Transition(to Status) error {
	if !CanTransition(e.Status, to) {
		return &TransitionError{EventID: e.ID, From: e.Status, To: to}
	}
	e.Status = to
	return nil
}
