package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/agent-event-bus/config"
	adapter "github.com/webitel/agent-event-bus/internal/adapter/pubsub"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
	"github.com/webitel/agent-event-bus/internal/service"
	"github.com/webitel/agent-event-bus/internal/store"
	"go.opentelemetry.io/otel/trace/noop"
)

type harness struct {
	bus     *bus.Bus
	channel *gochannel.GoChannel
	cfg     *config.Config
}

func startPipeline(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wmLogger := watermill.NewSlogLogger(logger)

	cfg := &config.Config{PubSub: config.PubSubConfig{
		Enabled:      true,
		IngressTopic: "agentbus.ingress",
		PoisonTopic:  "agentbus.ingress.poison",
		EgressPrefix: "agentbus.events.",
		Buffer:       64,
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
	}}

	hub := registry.NewHub(logger)
	b, err := bus.New(store.NewMemory(), hub, logger)
	require.NoError(t, err)

	ch := adapter.NewGoChannel(cfg, wmLogger)
	dispatcher := adapter.NewEventDispatcher(ch, cfg.PubSub.EgressPrefix)

	ingress := NewIngressHandler(IngressParams{
		Config:     cfg,
		Publisher:  service.NewPublisher(b, "ingress"),
		Dispatcher: dispatcher,
		Logger:     logger,
		WMLogger:   wmLogger,
		Tracer:     noop.NewTracerProvider().Tracer("test"),
	})

	router, err := NewWatermillRouter(wmLogger)
	require.NoError(t, err)
	require.NoError(t, ingress.RegisterHandlers(router, ch))

	egress := NewEgress(hub, dispatcher, logger)
	require.NoError(t, egress.Start())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	t.Cleanup(func() {
		cancel()
		_ = router.Close()
		_ = egress.Stop()
		_ = ch.Close()
	})
	return &harness{bus: b, channel: ch, cfg: cfg}
}

func (h *harness) send(t *testing.T, payload []byte) {
	t.Helper()
	require.NoError(t, h.channel.Publish(h.cfg.PubSub.IngressTopic, message.NewMessage(watermill.NewUUID(), payload)))
}

func TestIngressToEgress(t *testing.T) {
	h := startPipeline(t)

	mirrored, err := h.channel.Subscribe(context.Background(), "agentbus.events.notification")
	require.NoError(t, err)

	h.send(t, []byte(`{
		"event_id": "01JB0000000000000000000001",
		"event_type": "notification",
		"event_name": "order_paid",
		"source": "billing_agent",
		"priority": "high",
		"payload": {"data": {"order": "42"}}
	}`))

	select {
	case msg := <-mirrored:
		msg.Ack()
		assert.Equal(t, "01JB0000000000000000000001", msg.Metadata.Get("event_id"))

		var ev event.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, "order_paid", ev.Name)
		assert.Equal(t, event.PriorityHigh, ev.Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not mirrored to the egress topic")
	}

	require.Eventually(t, func() bool {
		ev, err := h.bus.GetEvent(context.Background(), "01JB0000000000000000000001")
		return err == nil && ev.Status == event.StatusCompleted
	}, 2*time.Second, time.Millisecond)
}

func TestIngressAcksInvalidMessages(t *testing.T) {
	h := startPipeline(t)

	poison, err := h.channel.Subscribe(context.Background(), h.cfg.PubSub.PoisonTopic)
	require.NoError(t, err)

	h.send(t, []byte(`not json`))
	h.send(t, []byte(`{"event_type": "command", "event_name": "x", "source": "a", "payload": {}}`))

	select {
	case msg := <-poison:
		t.Fatalf("invalid input must not be parked: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}

	events, err := h.bus.GetEvents(context.Background(), store.Criteria{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
