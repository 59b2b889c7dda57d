// Package main provides the Loki API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/integrations"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/queue"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/reconciler"
	"github.com/loki-platform/loki/pkg/services"
	"github.com/loki-platform/loki/pkg/vault"
	"github.com/loki-platform/loki/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	taskQueue   queue.Queue
	engine      *engine.Client
	providers   *vault.Providers
	tokenVault  *vault.Vault
	states      *vault.StateStore
	limiter     *ratelimit.Limiter
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	taskQueue queue.Queue,
	engineClient *engine.Client,
	providers *vault.Providers,
	tokenVault *vault.Vault,
	states *vault.StateStore,
	limiter *ratelimit.Limiter,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		taskQueue:   taskQueue,
		engine:      engineClient,
		providers:   providers,
		tokenVault:  tokenVault,
		states:      states,
		limiter:     limiter,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	catalog := integrations.NewCatalog(a.tracer, a.logger)
	workflowDispatcher := dispatcher.NewDispatcher(a.persistence, a.limiter, a.tokenVault, a.engine, a.tracer, a.logger)

	workflowService := services.NewWorkflow(a.persistence, a.engine, a.logger)
	executionService := services.NewExecution(a.persistence, workflowDispatcher, a.logger)
	integrationService := services.NewIntegration(a.persistence, a.providers, a.states, a.tokenVault, catalog, a.limiter, a.logger)

	handlers := web.NewAPIHandlers(workflowService, executionService, integrationService, a.validate)
	webhookHandlers := web.NewWebhookHandlers(
		a.persistence.WebhookEventRepository(),
		a.taskQueue,
		reconciler.NewMapperRegistry().Sources(),
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Loki API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/deploy", handlers.DeployWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/resume", handlers.ResumeWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	i := app.Group("/integrations")
	i.Get("/", handlers.GetIntegrations)
	i.Post("/connect", handlers.ConnectIntegration)
	i.Get("/callback", handlers.IntegrationCallback)
	i.Delete("/:id", handlers.DisconnectIntegration)
	i.Post("/:type/actions", handlers.ExecuteIntegrationAction)

	wh := app.Group("/webhooks")
	wh.Get("/health", webhookHandlers.Health)
	wh.Post("/:source/:ref", webhookHandlers.Ingest)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
