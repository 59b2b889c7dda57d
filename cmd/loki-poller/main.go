package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/loki-platform/loki/pkg/cmd"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/log"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/poller"
	"github.com/loki-platform/loki/pkg/reconciler"
)

func main() {
	logger := log.WithModule("poller")

	cmd := &cli.Command{
		Name:                  "loki-poller",
		Usage:                 "Sweep stale execution statuses and purge old executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "engine-url",
				Usage:    "Base URL of the execution engine API",
				Required: true,
				Sources:  cli.EnvVars("ENGINE_URL"),
			},
			&cli.StringFlag{
				Name:    "engine-api-key",
				Usage:   "API key for the execution engine",
				Sources: cli.EnvVars("ENGINE_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron entry (with seconds) for the status sweep",
				Value:   "*/30 * * * * *",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "purge-schedule",
				Usage:   "Cron entry (with seconds) for the execution purge",
				Value:   "0 0 3 * * *",
				Sources: cli.EnvVars("PURGE_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "grace-seconds",
				Usage:   "How long a pending or running execution may go without an update before it is swept",
				Value:   120,
				Sources: cli.EnvVars("GRACE_SECONDS"),
			},
			&cli.IntFlag{
				Name:    "sweep-batch",
				Usage:   "Maximum executions swept per run",
				Value:   100,
				Sources: cli.EnvVars("SWEEP_BATCH"),
			},
			&cli.IntFlag{
				Name:    "retention-days",
				Usage:   "How many days finished executions are kept",
				Value:   30,
				Sources: cli.EnvVars("RETENTION_DAYS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Loki Poller")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "loki-poller")
			if err != nil {
				return err
			}

			engineClient := engine.NewClient(engine.Config{
				BaseURL: command.String("engine-url"),
				APIKey:  command.String("engine-api-key"),
			}, tracer, logger)

			statusReconciler := reconciler.NewReconciler(persistence, reconciler.NewMapperRegistry(), tracer, logger)

			p := poller.NewPoller(persistence, engineClient, statusReconciler, poller.Config{
				SweepSchedule: command.String("sweep-schedule"),
				PurgeSchedule: command.String("purge-schedule"),
				GracePeriod:   time.Duration(command.Int("grace-seconds")) * time.Second,
				SweepBatch:    command.Int("sweep-batch"),
				Retention:     time.Duration(command.Int("retention-days")) * 24 * time.Hour,
			}, logger)

			err = p.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start poller", "error", err)

				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			p.Stop(ctx)

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
