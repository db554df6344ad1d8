package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
)

// Response defines the top-level JSON object to support event batching.
type Response struct {
	Events []marshaller.Frame `json:"events"`
	// Dropped counts events lost to backpressure while this poll was open.
	Dropped uint64 `json:"dropped,omitempty"`
}

// MarshallEvents converts a batch of routed events into a single JSON body.
func MarshallEvents(events []event.Event, dropped uint64) ([]byte, error) {
	res := Response{
		Events:  make([]marshaller.Frame, 0, len(events)),
		Dropped: dropped,
	}
	for _, ev := range events {
		res.Events = append(res.Events, marshaller.EventFrame(ev))
	}
	return json.Marshal(res)
}
