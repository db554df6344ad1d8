package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// record is the structured wire form of an Event.
type record struct {
	ID                  string          `json:"event_id"`
	CorrelationID       string          `json:"correlation_id,omitempty"`
	CausationID         string          `json:"causation_id,omitempty"`
	Type                Type            `json:"event_type"`
	Name                string          `json:"event_name"`
	SchemaVersion       int             `json:"schema_version"`
	Source              string          `json:"source"`
	Target              string          `json:"target,omitempty"`
	Priority            *Priority       `json:"priority,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	PublishedAt         *time.Time      `json:"published_at,omitempty"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	Status              Status          `json:"status,omitempty"`
	RetryCount          int             `json:"retry_count"`
	MaxRetries          *int            `json:"max_retries,omitempty"`
	MobileOptimization  map[string]any  `json:"mobile_optimization_flags,omitempty"`
	ConversationContext map[string]any  `json:"conversation_context,omitempty"`
	DecisionContext     map[string]any  `json:"decision_context,omitempty"`
}

// MarshalJSON encodes the event as its structured record.
func (e Event) MarshalJSON() ([]byte, error) {
	r := record{
		ID:                  e.ID,
		CorrelationID:       e.CorrelationID,
		CausationID:         e.CausationID,
		Type:                e.Type,
		Name:                e.Name,
		SchemaVersion:       e.SchemaVersion,
		Source:              e.Source,
		Target:              e.Target,
		CreatedAt:           e.CreatedAt,
		ExpiresAt:           e.ExpiresAt,
		Status:              e.Status,
		RetryCount:          e.RetryCount,
		MobileOptimization:  e.MobileOptimization,
		ConversationContext: e.ConversationContext,
		DecisionContext:     e.DecisionContext,
	}

	if e.Priority.Valid() {
		p := e.Priority
		r.Priority = &p
	}
	if !e.PublishedAt.IsZero() {
		t := e.PublishedAt
		r.PublishedAt = &t
	}
	if e.MaxRetries != UseBusDefault {
		n := e.MaxRetries
		r.MaxRetries = &n
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %s: marshal payload: %w", e.ID, err)
		}
		r.Payload = raw
	}

	return json.Marshal(r)
}

// UnmarshalJSON decodes a structured record. The payload is decoded into the
// concrete type selected by event_type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	out := Event{
		ID:                  r.ID,
		CorrelationID:       r.CorrelationID,
		CausationID:         r.CausationID,
		Type:                r.Type,
		Name:                r.Name,
		SchemaVersion:       r.SchemaVersion,
		Source:              r.Source,
		Target:              r.Target,
		Priority:            PriorityMedium,
		CreatedAt:           r.CreatedAt,
		ExpiresAt:           r.ExpiresAt,
		Status:              r.Status,
		RetryCount:          r.RetryCount,
		MaxRetries:          UseBusDefault,
		MobileOptimization:  r.MobileOptimization,
		ConversationContext: r.ConversationContext,
		DecisionContext:     r.DecisionContext,
	}
	if r.Priority != nil {
		out.Priority = *r.Priority
	}
	if r.PublishedAt != nil {
		out.PublishedAt = *r.PublishedAt
	}
	if r.MaxRetries != nil {
		out.MaxRetries = *r.MaxRetries
	}

	if p := newPayload(r.Type); p != nil {
		if len(r.Payload) > 0 && !bytes.Equal(r.Payload, []byte("null")) {
			if err := json.Unmarshal(r.Payload, p); err != nil {
				return fmt.Errorf("event %s: decode %s payload: %w", r.ID, r.Type, err)
			}
		}
		out.Payload = p
	}

	*e = out
	return nil
}

// Decode parses an inbound event submitted by an external collaborator and
// fills every defaultable field the way New does. The result still needs
// Validate.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, &InvalidEventError{Reason: err.Error()}
	}

	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = 1
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	// [FRESH_LIFECYCLE] Inbound events always start a new lifecycle.
	ev.Status = StatusCreated
	ev.RetryCount = 0
	ev.PublishedAt = time.Time{}

	return ev, nil
}

// ToMap renders the event as a generic structured record.
func (e Event) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
