package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/agent-event-bus/config"
)

const (
	ServiceName      = "agent-event-bus"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Event coordination bus for cooperating agents",
		Version: version + " (" + branch + "@" + commit + ", " + commitDate + ")",
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the event bus with its admin API and broker bridge",
		ArgsUsage: "[-- --log.level=debug --http.addr=:9090 ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			// Arguments after the command flags are config overrides.
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice()...)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}
			slog.Info("SERVICE_STARTED",
				"version", version,
				"commit", commit,
				"build", buildTimestamp,
				"namespace", ServiceNamespace,
			)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SERVICE_STOPPING")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Bus.ShutdownGrace+5*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
