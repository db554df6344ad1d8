package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/webitel/agent-event-bus/config"
	"github.com/webitel/agent-event-bus/internal/bus"
	"github.com/webitel/agent-event-bus/internal/handler/lp"
	"github.com/webitel/agent-event-bus/internal/handler/ws"
	"github.com/webitel/agent-event-bus/internal/service"
	"github.com/webitel/agent-event-bus/internal/telemetry"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Config     *config.Config
	Bus        *bus.Bus
	Publisher  service.EventPublisher
	Subscriber *service.Subscriber
	Tapper     service.Tapper
	Telemetry  *telemetry.Providers `optional:"true"`
	Logger     *slog.Logger
}

var Module = fx.Module("api",
	fx.Provide(
		func(p Params) *Handler {
			return NewHandler(p.Bus, p.Publisher, p.Subscriber, p.Telemetry,
				ws.NewWSHandler(p.Logger, p.Tapper, p.Config.Taps.PingPeriod),
				lp.NewLPHandler(p.Tapper, p.Config.Taps.PollTimeout),
				p.Logger,
			)
		},
		NewServer,
	),
	fx.Invoke(func(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				logger.Info("HTTP_SERVER_STARTED", "addr", ln.Addr().String())
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("HTTP_SERVER_FAILED", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)

// NewServer builds the admin server. Long polls hold a response for up to
// taps.poll_timeout, so that is added to the write timeout.
func NewServer(cfg *config.Config, h *Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.Taps.PollTimeout + cfg.HTTP.WriteTimeout,
	}
}
