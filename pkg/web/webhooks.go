package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/queue"
)

// maxWebhookBody caps inbound callback bodies at 1 MiB. Engine status
// payloads are a few KB; anything larger is not a status callback.
const maxWebhookBody = 1 << 20

// TaskEnqueuer is the slice of the work queue the ingest handler needs.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, key string, task queue.Task) error
}

// WebhookHandlers accepts status callbacks from external systems. The
// request path only records the delivery and hands it to the queue; all
// payload interpretation happens in the worker, so the sender gets its
// answer fast no matter what the payload holds.
type WebhookHandlers struct {
	events  persistence.WebhookEventRepository
	tasks   TaskEnqueuer
	sources map[string]struct{}
	logger  *slog.Logger
}

func NewWebhookHandlers(
	events persistence.WebhookEventRepository,
	tasks TaskEnqueuer,
	sources []string,
	logger *slog.Logger,
) *WebhookHandlers {
	known := make(map[string]struct{}, len(sources))
	for _, source := range sources {
		known[source] = struct{}{}
	}

	return &WebhookHandlers{
		events:  events,
		tasks:   tasks,
		sources: known,
		logger:  logger.With("module", "webhook_ingest"),
	}
}

// Ingest handles POST /webhooks/:source/:ref. The event row is written
// before the 202 goes out; a non-2xx answer makes the sender redeliver,
// which the reconciler's idempotency rule absorbs.
func (h *WebhookHandlers) Ingest(c fiber.Ctx) error {
	source := c.Params("source")
	externalRef := c.Params("ref")

	if _, ok := h.sources[source]; !ok {
		return notFound(c, "unknown_source", "unknown webhook source")
	}

	if externalRef == "" {
		return badRequest(c, "External reference is required")
	}

	body := c.Body()
	if len(body) > maxWebhookBody {
		problem := problems.NewStatusProblem(fiber.StatusRequestEntityTooLarge).
			WithInstance(c.Path()).
			WithType("payload_too_large").
			WithDetail("webhook payload exceeds 1 MiB")

		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(problem)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return badRequest(c, "Invalid JSON payload")
	}

	event := &models.WebhookEvent{
		Source:      source,
		ExternalRef: externalRef,
		Payload:     payload,
	}

	if err := h.events.Save(c.Context(), event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to record webhook event",
			"source", source, "external_ref", externalRef, "error", err)

		return internalError(c, err)
	}

	task := &queue.ProcessWebhookTask{
		EventID:     event.ID,
		Source:      source,
		ExternalRef: externalRef,
	}

	if err := h.tasks.Enqueue(c.Context(), externalRef, task); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to enqueue webhook event",
			"event_id", event.ID, "source", source, "error", err)

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "accepted",
		"event_id": event.ID,
	})
}

// Health answers engine-side liveness probes against the callback URL.
func (h *WebhookHandlers) Health(c fiber.Ctx) error {
	sources := make([]string, 0, len(h.sources))
	for source := range h.sources {
		sources = append(sources, source)
	}

	sort.Strings(sources)

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"sources": sources,
	})
}
