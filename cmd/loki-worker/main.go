package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/loki-platform/loki/pkg/cmd"
	"github.com/loki-platform/loki/pkg/config"
	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/integrations"
	"github.com/loki-platform/loki/pkg/log"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/reconciler"
	"github.com/loki-platform/loki/pkg/services"
	"github.com/loki-platform/loki/pkg/vault"
	"github.com/loki-platform/loki/pkg/worker"
)

func main() {
	cmd := &cli.Command{
		Name:                  "loki-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to drain the task queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for rate limiting and OAuth state",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-provider",
				Usage:   "Task queue provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("QUEUE_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
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
				Name:    "callback-base-url",
				Usage:   "Public base URL of the API, sent to the engine for status callbacks",
				Sources: cli.EnvVars("CALLBACK_BASE_URL"),
			},
			&cli.StringFlag{
				Name:     "token-encryption-key",
				Usage:    "Key for encrypting stored OAuth tokens (base64 or raw 32 bytes)",
				Required: true,
				Sources:  cli.EnvVars("TOKEN_ENCRYPTION_KEY"),
			},
			&cli.StringFlag{
				Name:    "ratelimit-config",
				Usage:   "Path to the rate limit rules file (built-in defaults when unset)",
				Sources: cli.EnvVars("RATELIMIT_CONFIG"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("loki-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Loki Worker")

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

			taskQueue := cmd.NewQueue(command.String("queue-provider"), "worker", command.String("kafka-brokers"), logger)
			defer func() {
				if err := taskQueue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close task queue", "error", err)
				}
			}()

			redisClient := cmd.NewRedisClient(command.String("redis-url"))
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close Redis client", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "loki-worker")
			if err != nil {
				return err
			}

			engineClient := engine.NewClient(engine.Config{
				BaseURL:         command.String("engine-url"),
				APIKey:          command.String("engine-api-key"),
				CallbackBaseURL: command.String("callback-base-url"),
			}, tracer, logger)

			providers := vault.ProvidersFromEnv()

			tokenVault, err := cmd.NewTokenVault(persistence, providers, command.String("token-encryption-key"), tracer, logger)
			if err != nil {
				return err
			}

			states := vault.NewStateStore(redisClient, 0)

			rateLimits := config.LoadRateLimitConfigOrDefault(command.String("ratelimit-config"))
			limiter := ratelimit.NewLimiter(redisClient, rateLimits, logger)

			catalog := integrations.NewCatalog(tracer, logger)
			statusReconciler := reconciler.NewReconciler(persistence, reconciler.NewMapperRegistry(), tracer, logger)
			workflowDispatcher := dispatcher.NewDispatcher(persistence, limiter, tokenVault, engineClient, tracer, logger)
			integrationService := services.NewIntegration(persistence, providers, states, tokenVault, catalog, limiter, logger)

			manager := worker.NewManager(
				workerID,
				persistence,
				taskQueue,
				statusReconciler,
				workflowDispatcher,
				integrationService,
				logger,
			)

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down worker...")

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
