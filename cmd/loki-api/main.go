package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/loki-platform/loki/pkg/cmd"
	"github.com/loki-platform/loki/pkg/config"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/log"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/vault"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "loki-api",
		Usage:                 "Manage workflows, integrations and executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Value:   "gochannel",
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
				Usage:   "Public base URL of this API, sent to the engine for status callbacks",
				Sources: cli.EnvVars("CALLBACK_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "engine-webhook-base-url",
				Usage:   "Public base URL of the engine's inbound webhook host",
				Sources: cli.EnvVars("ENGINE_WEBHOOK_BASE_URL"),
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

			logger.InfoContext(ctx, "Initializing Loki API")

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

			taskQueue := cmd.NewQueue(command.String("queue-provider"), "api", command.String("kafka-brokers"), logger)
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

			tracer, err := otelhelper.NewTracer(ctx, "loki-api")
			if err != nil {
				return err
			}

			engineClient := engine.NewClient(engine.Config{
				BaseURL:         command.String("engine-url"),
				APIKey:          command.String("engine-api-key"),
				CallbackBaseURL: command.String("callback-base-url"),
				WebhookBaseURL:  command.String("engine-webhook-base-url"),
			}, tracer, logger)

			providers := vault.ProvidersFromEnv()

			tokenVault, err := cmd.NewTokenVault(persistence, providers, command.String("token-encryption-key"), tracer, logger)
			if err != nil {
				return err
			}

			states := vault.NewStateStore(redisClient, 0)

			rateLimits := config.LoadRateLimitConfigOrDefault(command.String("ratelimit-config"))
			limiter := ratelimit.NewLimiter(redisClient, rateLimits, logger)

			api := NewAPI(logger, persistence, taskQueue, engineClient, providers, tokenVault, states, limiter, tracer)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
