package pubsub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/agent-event-bus/config"
	adapter "github.com/webitel/agent-event-bus/internal/adapter/pubsub"
	"github.com/webitel/agent-event-bus/internal/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

const IngressHandlerName = "AGENTBUS_INGRESS"

type IngressHandler struct {
	cfg        config.PubSubConfig
	publisher  service.EventPublisher
	dispatcher adapter.EventDispatcher
	tracer     trace.Tracer
	logger     *slog.Logger
	wmLogger   watermill.LoggerAdapter
}

type IngressParams struct {
	fx.In

	Config     *config.Config
	Publisher  service.EventPublisher
	Dispatcher adapter.EventDispatcher
	Logger     *slog.Logger
	WMLogger   watermill.LoggerAdapter
	Tracer     trace.Tracer `optional:"true"`
}

func NewIngressHandler(p IngressParams) *IngressHandler {
	tracer := p.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/webitel/agent-event-bus/internal/handler/pubsub")
	}
	return &IngressHandler{
		cfg:        p.Config.PubSub,
		publisher:  p.Publisher,
		dispatcher: p.Dispatcher,
		tracer:     tracer,
		logger:     p.Logger,
		wmLogger:   p.WMLogger,
	}
}

// NewWatermillRouter builds a router that survives handler panics.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *IngressHandler) RegisterHandlers(router *message.Router, sub message.Subscriber) error {
	poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), h.cfg.PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	// Poison wraps retry so only exhausted messages are parked.
	router.AddConsumerHandler(IngressHandlerName, h.cfg.IngressTopic, sub, Bind(h.publisher, h.logger)).AddMiddleware(
		TracingMiddleware(h.tracer),
		LoggingMiddleware(h.logger),
		poison,
		NewRetryMiddleware(h.cfg, h.wmLogger).Middleware,
	)

	h.logger.Info("INGRESS_PIPELINE_READY",
		"topic", h.cfg.IngressTopic,
		"poison_topic", h.cfg.PoisonTopic,
	)
	return nil
}
