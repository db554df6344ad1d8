package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/agent-event-bus/internal/domain/event"
	"github.com/webitel/agent-event-bus/internal/domain/filter"
	"github.com/webitel/agent-event-bus/internal/domain/registry"
)

// [TAP_SERVICE] PRIMARY INTERFACE FOR STREAMING HANDLERS (Websocket/Long-poll)
type Tapper interface {
	Open(ctx context.Context, f filter.Filter, meta registry.ConnectMetadata) (registry.Connector, error)
	Close(conn registry.Connector)
}

// TapService streams matching events to remote observers. Each tap is a
// bus subscription with concurrency 1 whose handler feeds a connector.
type TapService struct {
	hub         registry.Hubber
	bufferSize  int
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewTapService returns a tap service writing to connectors of bufferSize
// events, waiting at most sendTimeout on a slow reader.
func NewTapService(hub registry.Hubber, bufferSize int, sendTimeout time.Duration, logger *slog.Logger) *TapService {
	return &TapService{
		hub:         hub,
		bufferSize:  bufferSize,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// [OPEN] HANDLES TAP LIFECYCLE INITIATION
func (s *TapService) Open(ctx context.Context, f filter.Filter, meta registry.ConnectMetadata) (registry.Connector, error) {
	// 1. Create the connector; it dies with ctx
	conn := registry.NewConnector(ctx, s.bufferSize, meta)

	// 2. Subscribe with a handler that never fails: a tap is a lossy observer
	// and a slow reader must not drive the retry policy.
	handler := registry.HandlerFunc(func(_ context.Context, ev event.Event) error {
		if !conn.Send(ev, s.sendTimeout) {
			s.logger.Debug("TAP_EVENT_DROPPED",
				"conn_id", conn.ID(),
				"event_id", ev.ID,
				"priority", ev.Priority.String(),
			)
		}
		return nil
	})

	sub, err := s.hub.Register("tap:"+conn.ID().String(), f, handler, 1)
	if err != nil {
		conn.Close()
		return nil, err
	}
	registry.Bind(conn, sub.ID)

	// 3. Cancel the subscription once the transport goes away
	go func() {
		<-conn.Done()
		s.cancel(conn)
	}()

	s.logger.Info("TAP_OPENED",
		"conn_id", conn.ID(),
		"subscription_id", sub.ID,
		"remote_ip", meta.RemoteIP,
		"filter", f.String(),
	)
	return conn, nil
}

// [CLOSE] TRIGGERS CLEANUP; SAFE TO CALL MORE THAN ONCE
func (s *TapService) Close(conn registry.Connector) {
	conn.Close()
	s.cancel(conn)
}

func (s *TapService) cancel(conn registry.Connector) {
	id := conn.SubscriptionID()
	if id == "" {
		return
	}
	sub, err := s.hub.Get(id)
	if err != nil || sub.State() == registry.StateCancelled {
		return
	}
	if _, err := s.hub.SetState(id, registry.StateCancelled); err != nil && !errors.Is(err, registry.ErrCancelled) {
		s.logger.Warn("TAP_UNSUBSCRIBE_FAILED", "conn_id", conn.ID(), "err", err)
		return
	}
	s.logger.Info("TAP_CLOSED",
		"conn_id", conn.ID(),
		"subscription_id", id,
		"dropped", conn.Dropped(),
	)
}
