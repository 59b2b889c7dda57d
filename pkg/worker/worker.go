// Package worker drains the task queue: webhook events feed the
// reconciler, dispatch requests feed the dispatcher, and integration
// actions run against providers with vault credentials. Handlers return
// an error only when redelivery can help; permanently unprocessable
// tasks are logged, recorded where a row exists for it, and acked.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/queue"
	"github.com/loki-platform/loki/pkg/reconciler"
	"github.com/loki-platform/loki/pkg/vault"
)

// Runner starts workflow runs for queued dispatch requests.
type Runner interface {
	Dispatch(ctx context.Context, workflowID string, triggerPayload map[string]any) (*dispatcher.Handle, error)
}

// ActionExecutor runs one provider action with stored credentials.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, ownerID string, integrationType models.IntegrationType, action string, params map[string]any) (map[string]any, error)
}

// StatusReconciler is the slice of the reconciler the worker needs.
type StatusReconciler interface {
	ApplyEvent(ctx context.Context, source, externalRef string, payload map[string]any) (reconciler.ReconcileResult, error)
	RecordStep(ctx context.Context, externalRef string, step *models.StepResult) error
}

type Manager struct {
	id          string
	persistence persistence.Persistence
	queue       queue.Subscriber
	reconciler  StatusReconciler
	runner      Runner
	actions     ActionExecutor
	logger      *slog.Logger
}

func NewManager(
	id string,
	persist persistence.Persistence,
	taskQueue queue.Subscriber,
	statusReconciler StatusReconciler,
	runner Runner,
	actions ActionExecutor,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		id:          id,
		persistence: persist,
		queue:       taskQueue,
		reconciler:  statusReconciler,
		runner:      runner,
		actions:     actions,
		logger:      logger.With("module", "worker", "worker_id", id),
	}
}

// Start registers the task handlers and begins consuming. It returns
// once the subscription is established; consumption stops when ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker", "worker_id", m.id)

	if err := m.queue.Handle(queue.TaskKindProcessWebhook, m.handleProcessWebhook); err != nil {
		return err
	}

	if err := m.queue.Handle(queue.TaskKindDispatchWorkflow, m.handleDispatchWorkflow); err != nil {
		return err
	}

	if err := m.queue.Handle(queue.TaskKindIntegrationAction, m.handleIntegrationAction); err != nil {
		return err
	}

	err := m.queue.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to task queue", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// handleProcessWebhook re-reads the stored event and feeds it through
// the reconciler. Unmatchable or malformed events are marked failed on
// the event row and acked; only storage trouble is worth a redelivery.
func (m *Manager) handleProcessWebhook(ctx context.Context, task any) error {
	webhookTask, ok := task.(*queue.ProcessWebhookTask)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid task type for webhook processing")

		return nil
	}

	logger := m.logger.With(
		"event_id", webhookTask.EventID,
		"source", webhookTask.Source,
		"external_ref", webhookTask.ExternalRef,
	)

	events := m.persistence.WebhookEventRepository()

	event, err := events.GetByID(ctx, webhookTask.EventID)
	if err != nil {
		if persistence.IsWebhookEventNotFound(err) {
			logger.WarnContext(ctx, "Webhook event row is gone, dropping task")

			return nil
		}

		return fmt.Errorf("failed to load webhook event: %w", err)
	}

	if event.ProcessedAt != nil {
		logger.DebugContext(ctx, "Webhook event already processed", "result", event.Result)

		return nil
	}

	result, err := m.reconciler.ApplyEvent(ctx, event.Source, event.ExternalRef, event.Payload)
	if err != nil {
		if isPermanentEventError(err) {
			logger.WarnContext(ctx, "Webhook event cannot be applied, dropping", "error", err)

			return m.markEventProcessed(ctx, logger, event.ID, "failed: "+err.Error())
		}

		return fmt.Errorf("failed to apply webhook event: %w", err)
	}

	logger.InfoContext(ctx, "Webhook event applied", "result", result)

	return m.markEventProcessed(ctx, logger, event.ID, string(result))
}

// isPermanentEventError separates events no retry can save from
// transient reconciler trouble.
func isPermanentEventError(err error) bool {
	return reconciler.IsUnknownExecution(err) ||
		reconciler.IsUnknownSource(err) ||
		reconciler.IsInvalidPayload(err) ||
		reconciler.IsInvalidTransition(err)
}

func (m *Manager) markEventProcessed(ctx context.Context, logger *slog.Logger, eventID, result string) error {
	err := m.persistence.WebhookEventRepository().MarkProcessed(ctx, eventID, result, time.Now().UTC())
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark webhook event processed", "error", err)

		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	return nil
}

// handleDispatchWorkflow starts one workflow run. Outcomes the
// dispatcher already recorded on the execution row (rate limits, engine
// outages) are final; redelivering would double-dispatch.
func (m *Manager) handleDispatchWorkflow(ctx context.Context, task any) error {
	dispatchTask, ok := task.(*queue.DispatchWorkflowTask)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid task type for workflow dispatch")

		return nil
	}

	logger := m.logger.With("workflow_id", dispatchTask.WorkflowID)

	handle, err := m.runner.Dispatch(ctx, dispatchTask.WorkflowID, dispatchTask.TriggerPayload)
	if err != nil {
		if dispatcher.IsNotDeployed(err) || dispatcher.IsRateLimitExceeded(err) || persistence.IsWorkflowNotFound(err) {
			logger.WarnContext(ctx, "Dispatch request refused, dropping task", "error", err)

			return nil
		}

		return fmt.Errorf("failed to dispatch workflow: %w", err)
	}

	logger.InfoContext(ctx, "Workflow dispatched",
		"execution_id", handle.ExecutionID,
		"external_ref", handle.ExternalRef,
		"status", handle.Status,
	)

	return nil
}

// handleIntegrationAction executes one provider call. Provider calls
// are never replayed: redelivery would repeat a possibly non-idempotent
// action, so the outcome, success or failure, is recorded and the task
// acked either way.
func (m *Manager) handleIntegrationAction(ctx context.Context, task any) error {
	actionTask, ok := task.(*queue.IntegrationActionTask)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid task type for integration action")

		return nil
	}

	logger := m.logger.With(
		"owner_id", actionTask.OwnerID,
		"integration_type", actionTask.IntegrationType,
		"action", actionTask.Action,
	)

	result, err := m.actions.ExecuteAction(ctx, actionTask.OwnerID, actionTask.IntegrationType, actionTask.Action, actionTask.Parameters)

	step := &models.StepResult{
		StepID: actionTask.Action,
		Status: string(models.ExecutionStatusSucceeded),
	}

	switch {
	case err != nil:
		logger.WarnContext(ctx, "Integration action failed", "error", err)

		step.Status = string(models.ExecutionStatusFailed)
		step.Error = actionFailureDetail(err)
	default:
		logger.InfoContext(ctx, "Integration action executed")

		step.Output = fmt.Sprintf("%v", result)
	}

	if actionTask.ExternalRef == "" {
		return nil
	}

	// The provider call already happened; a nack from here would replay
	// it. Recording trouble is logged and the task acked regardless.
	recordErr := m.reconciler.RecordStep(ctx, actionTask.ExternalRef, step)
	if recordErr != nil {
		logger.ErrorContext(ctx, "Failed to record action outcome",
			"external_ref", actionTask.ExternalRef,
			"error", recordErr,
		)
	}

	return nil
}

// actionFailureDetail keeps the recorded error short and classified.
func actionFailureDetail(err error) string {
	switch {
	case vault.IsReauthRequired(err):
		return models.DetailReauthRequired
	case dispatcher.IsRateLimitExceeded(err):
		return models.DetailRateLimited
	default:
		return err.Error()
	}
}
