package registry

import (
	"log/slog"

	"github.com/webitel/agent-event-bus/config"
	"go.uber.org/fx"
)

// Module provides the subscription table. Its cells are drained by the
// bus on shutdown, so no lifecycle hook lives here.
var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(logger,
				WithDefaultConcurrency(cfg.Bus.Concurrency),
				WithConnectorBuffer(cfg.Taps.Buffer),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
)
