package event

import (
	"time"
)

// Type is the fixed set of event kinds flowing through the bus.
type Type string

const (
	Command      Type = "command"
	Notification Type = "notification"
	Query        Type = "query"
	Response     Type = "response"
	Error        Type = "error"
)

// Types lists every recognised event type.
var Types = []Type{Command, Notification, Query, Response, Error}

// Valid reports whether t is one of the recognised variants.
func (t Type) Valid() bool {
	switch t {
	case Command, Notification, Query, Response, Error:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// Event is the unit of communication between agents.
//
// [OWNERSHIP]
// Once published the bus owns the event for its delivery lifecycle; only
// Status, RetryCount and PublishedAt are mutated after that point, and only
// by the bus.
type Event struct {
	// [IDENTITY]
	ID            string
	CorrelationID string
	CausationID   string

	// [ROUTING]
	Type          Type
	Name          string
	SchemaVersion int
	Source        string
	Target        string
	Priority      Priority

	Payload Payload

	CreatedAt   time.Time
	PublishedAt time.Time
	ExpiresAt   *time.Time

	// [LIFECYCLE]
	Status     Status
	RetryCount int
	MaxRetries int

	// [OPAQUE_METADATA] Forwarded verbatim, never inspected by the bus.
	MobileOptimization  map[string]any
	ConversationContext map[string]any
	DecisionContext     map[string]any
}

// UseBusDefault marks MaxRetries as unset so the bus applies its own policy.
const UseBusDefault = -1

// New builds an event with defaults applied. It does not validate; the bus
// validates on publish and callers may call Validate earlier.
func New(t Type, name, source string, payload Payload, opts ...Option) Event {
	now := time.Now().UTC()
	id := NewID()

	ev := Event{
		ID:            id,
		CorrelationID: id,
		Type:          t,
		Name:          name,
		SchemaVersion: 1,
		Source:        source,
		Priority:      PriorityMedium,
		Payload:       payload,
		CreatedAt:     now,
		Status:        StatusCreated,
		MaxRetries:    UseBusDefault,
	}

	for _, opt := range opts {
		opt(&ev)
	}

	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}

	return ev
}

// Is reports whether both values describe the same event; identity is by ID.
func (e Event) Is(other Event) bool {
	return e.ID != "" && e.ID == other.ID
}

// Expired reports whether the event is past its expiry at the given instant.
func (e Event) Expired(at time.Time) bool {
	return e.ExpiresAt != nil && at.After(*e.ExpiresAt)
}

// Clone returns a copy that can be mutated without affecting e. Metadata bags
// are shared because the bus never writes to them.
func (e Event) Clone() Event {
	c := e
	if e.ExpiresAt != nil {
		exp := *e.ExpiresAt
		c.ExpiresAt = &exp
	}
	return c
}

// Option customises an event at construction time.
type Option func(*Event)

func WithTarget(target string) Option {
	return func(e *Event) { e.Target = target }
}

func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithCorrelationID joins the event to an existing logical flow.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

func WithCausationID(id string) Option {
	return func(e *Event) { e.CausationID = id }
}

func WithSchemaVersion(v int) Option {
	return func(e *Event) { e.SchemaVersion = v }
}

// WithMaxRetries overrides the bus retry budget for this event.
func WithMaxRetries(n int) Option {
	return func(e *Event) { e.MaxRetries = n }
}

func WithExpiresAt(t time.Time) Option {
	return func(e *Event) {
		exp := t.UTC()
		e.ExpiresAt = &exp
	}
}

// WithTTL expires the event ttl after its creation time.
func WithTTL(ttl time.Duration) Option {
	return func(e *Event) {
		exp := e.CreatedAt.Add(ttl)
		e.ExpiresAt = &exp
	}
}

func WithMobileOptimization(flags map[string]any) Option {
	return func(e *Event) { e.MobileOptimization = flags }
}

func WithConversationContext(ctx map[string]any) Option {
	return func(e *Event) { e.ConversationContext = ctx }
}

func WithDecisionContext(ctx map[string]any) Option {
	return func(e *Event) { e.DecisionContext = ctx }
}
