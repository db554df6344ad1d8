// Package api is the admin HTTP surface over the bus: publishing, event
// queries, replay, the dead-letter queue, metrics, subscriptions and the
// websocket and long-poll taps.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/model"
	"github.com/webitel/agent-event-bus/internal/handler/lp"
	"github.com/webitel/agent-event-bus/internal/handler/ws"
	"github.com/webitel/agent-event-bus/internal/service"
	"github.com/webitel/agent-event-bus/internal/store"
	"github.com/webitel/agent-event-bus/internal/telemetry"
)

// Admin is the administrative side of the bus.
type Admin interface {
	GetEvent(ctx context.Context, id string) (event.Event, error)
	GetEvents(ctx context.Context, c store.Criteria) ([]event.Event, error)
	ReplayEvents(ctx context.Context, c store.Criteria) (bus.ReplayResult, error)
	GetDeadLetterEvents(ctx context.Context) ([]model.DeadLetterEntry, error)
	RetryDeadLetterEvent(ctx context.Context, id string) error
	ClearDeadLetterEvent(ctx context.Context, id string) error
	GetMetrics() model.Metrics
}

var _ Admin = (*bus.Bus)(nil)

type Handler struct {
	admin      Admin
	publisher  service.EventPublisher
	subscriber *service.Subscriber
	telemetry  *telemetry.Providers
	ws         *ws.WSHandler
	lp         *lp.LPHandler
	logger     *slog.Logger
}

// NewHandler wires the API. telemetry, ws and lp may be nil; their routes
// are then not mounted.
func NewHandler(
	admin Admin,
	publisher service.EventPublisher,
	subscriber *service.Subscriber,
	tel *telemetry.Providers,
	wsHandler *ws.WSHandler,
	lpHandler *lp.LPHandler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		admin:      admin,
		publisher:  publisher,
		subscriber: subscriber,
		telemetry:  tel,
		ws:         wsHandler,
		lp:         lpHandler,
		logger:     logger,
	}
}

// Routes returns the /v1 router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.publishEvent)
			r.Get("/", h.listEvents)
			r.Post("/batch", h.publishBatch)
			r.Post("/replay", h.replayEvents)
			r.Get("/{id}", h.getEvent)
		})
		r.Route("/deadletters", func(r chi.Router) {
			r.Get("/", h.listDeadLetters)
			r.Post("/{id}/retry", h.retryDeadLetter)
			r.Delete("/{id}", h.clearDeadLetter)
		})
		r.Get("/metrics", h.metrics)
		if h.telemetry != nil {
			r.Get("/metrics/otel", h.otelMetrics)
		}
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.listSubscriptions)
			r.Post("/{id}/pause", h.pauseSubscription)
			r.Post("/{id}/resume", h.resumeSubscription)
			r.Delete("/{id}", h.cancelSubscription)
		})
		if h.ws != nil {
			r.Get("/taps/ws", h.ws.ServeHTTP)
		}
		if h.lp != nil {
			r.Get("/taps/poll", h.lp.Poll)
		}
	})
	return r
}

// logRequests is the access log in the service's message style.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP_REQUEST_HANDLED",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
