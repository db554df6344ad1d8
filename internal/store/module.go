package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webitel/agent-event-bus/config"
	"go.uber.org/fx"
)

// Open builds the configured driver, wrapped in the circuit breaker when
// enabled.
func Open(cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	var s Store
	switch cfg.Driver {
	case "", "memory":
		s = NewMemory()
	case "journal":
		j, err := OpenJournal(cfg.Path, cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("store: open journal %s: %w", cfg.Path, err)
		}
		s = j
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}

	logger.Info("EVENT_STORE_OPENED", "driver", cfg.Driver, "path", cfg.Path, "breaker", cfg.Breaker.Enabled)

	if !cfg.Breaker.Enabled {
		return s, nil
	}
	return NewBreaker(s, "event-store", BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, logger), nil
}

// Module provides the event store and closes it after the bus has drained.
var Module = fx.Module("store",
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (Store, error) {
		s, err := Open(cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return s.Close() },
		})
		return s, nil
	}),
)
