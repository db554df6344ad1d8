package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/handler/marshaller"
)

// MarshallDeliveryEvent prepares one routed event for a websocket text frame.
func MarshallDeliveryEvent(ev event.Event) ([]byte, error) {
	return json.Marshal(marshaller.EventFrame(ev))
}

// MarshallConnected is the first frame of every websocket tap.
func MarshallConnected(p marshaller.ConnectedPayload) ([]byte, error) {
	return json.Marshal(marshaller.ConnectedFrame(p))
}
