package marshaller

import (
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
)

// Frame kinds sent to tap clients.
const (
	KindEvent     = "agent_event"
	KindConnected = "connected"
)

// Frame is the envelope every tap transport writes. Payload is the event
// record for KindEvent frames.
type Frame struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload"`
}

// ConnectedPayload greets a freshly opened tap.
type ConnectedPayload struct {
	ConnectionID   string `json:"connection_id"`
	SubscriptionID string `json:"subscription_id"`
	Filter         string `json:"filter"`
}

// EventFrame wraps a routed event.
func EventFrame(ev event.Event) Frame {
	return Frame{
		Kind:    KindEvent,
		ID:      ev.ID,
		SentAt:  time.Now().UnixMilli(),
		Payload: ev,
	}
}

func ConnectedFrame(p ConnectedPayload) Frame {
	return Frame{
		Kind:    KindConnected,
		ID:      p.ConnectionID,
		SentAt:  time.Now().UnixMilli(),
		Payload: p,
	}
}
