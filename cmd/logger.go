package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/agent-event-bus/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProvideLogger builds the process logger from cfg.Log and installs it as
// the slog default. The level follows config file edits.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Log.Level)

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return rotator.Close() },
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	if cfg.Log.OTel {
		handler = fanout{handler, otelslog.NewHandler(cfg.Service.Name)}
	}

	logger := slog.New(handler).With(
		"service", cfg.Service.Name,
		"instance", cfg.Service.ID,
	)
	slog.SetDefault(logger)

	cfg.OnChange(func(next *config.Config) {
		if next.Log.Level != level.Level() {
			logger.Info("LOG_LEVEL_CHANGED", "from", level.Level().String(), "to", next.Log.Level.String())
			level.Set(next.Log.Level)
		}
	})
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// fanout hands every record to each handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			err = multierr.Append(err, h.Handle(ctx, r.Clone()))
		}
	}
	return err
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
