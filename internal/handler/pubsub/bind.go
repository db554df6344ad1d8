package pubsub

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/service"
)

// [INFRASTRUCTURE_BRIDGE]
// Bind connects an ingress topic to the publisher. Messages that can never
// become a valid event are acked and logged; transient failures are
// returned so the retry and poison middleware take over.
func Bind(publisher service.EventPublisher, logger *slog.Logger) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		// [DECODING]
		ev, err := event.Decode(msg.Payload)
		if err != nil {
			logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [EXECUTION]
		id, err := publisher.Publish(msg.Context(), ev)
		switch {
		case err == nil:
			logger.Debug("INGRESS_EVENT_PUBLISHED", "msg_id", msg.UUID, "event_id", id)
			return nil
		case errors.Is(err, event.ErrInvalidEvent):
			logger.Warn("INGRESS_EVENT_REJECTED",
				"msg_id", msg.UUID,
				"event_id", ev.ID,
				"err", err,
			)
			return nil // ACK: rejected for good.
		default:
			return fmt.Errorf("INGRESS_PUBLISH_FAILED: %w", err) // NACK: retry, then poison.
		}
	}
}
