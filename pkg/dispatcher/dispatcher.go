// Package dispatcher starts and cancels workflow runs on the external
// engine. It owns the pending execution record: the row with its unique
// external ref exists before any outbound call, so callbacks always
// find something to land on, and a failed call is recorded on the row
// instead of stranding it.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/vault"
)

// maxUpdateAttempts bounds re-reads when a callback wins the version
// race between our write and the engine's first status report.
const maxUpdateAttempts = 3

// EngineClient is the slice of the engine API dispatching needs.
type EngineClient interface {
	Execute(ctx context.Context, deployedRef, externalRef string, payload map[string]any) (*engine.ExecutionAccepted, error)
	CancelExecution(ctx context.Context, engineExecutionID string) error
}

// RateLimiter gates dispatches per owner and integration type.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key ratelimit.Key) (bool, error)
}

// TokenVault supplies valid credentials for the integrations a
// workflow's steps reference.
type TokenVault interface {
	GetValidToken(ctx context.Context, integrationID string) (*vault.AccessToken, error)
}

// Handle is what callers get back from a dispatch or cancel: enough to
// look the execution up and see where it stands right now.
type Handle struct {
	ExecutionID  string                 `json:"execution_id"`
	WorkflowID   string                 `json:"workflow_id"`
	ExternalRef  string                 `json:"external_ref"`
	Status       models.ExecutionStatus `json:"status"`
	StatusDetail string                 `json:"status_detail,omitempty"`
}

func newHandle(exec *models.WorkflowExecution) *Handle {
	return &Handle{
		ExecutionID:  exec.ID,
		WorkflowID:   exec.WorkflowID,
		ExternalRef:  exec.ExternalRef,
		Status:       exec.Status,
		StatusDetail: exec.StatusDetail,
	}
}

type Dispatcher struct {
	persistence persistence.Persistence
	limiter     RateLimiter
	vault       TokenVault
	engine      EngineClient
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewDispatcher(
	persist persistence.Persistence,
	limiter RateLimiter,
	tokenVault TokenVault,
	engineClient EngineClient,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: persist,
		limiter:     limiter,
		vault:       tokenVault,
		engine:      engineClient,
		tracer:      tracer,
		logger:      logger.With("module", "dispatcher"),
	}
}

// Dispatch starts one run of a deployed workflow. The execution row is
// created pending with a fresh external ref before anything leaves the
// process. Transport failures against the engine never escape: the row
// is marked failed:dispatch_error and the handle is returned, leaving
// final status to the reconciler and poller.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowID string, triggerPayload map[string]any) (*Handle, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Dispatch", workflowID, err)
	}

	if !workflow.IsDeployed() {
		err := NewDispatchError("Dispatch", workflowID, ErrNotDeployed)
		otelhelper.SetError(span, err)

		return nil, err
	}

	externalRef, err := uuid.NewV7()
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Dispatch", workflowID, err)
	}

	exec := &models.WorkflowExecution{
		WorkflowID:  workflow.ID,
		Status:      models.ExecutionStatusPending,
		ExternalRef: externalRef.String(),
	}

	if err := d.persistence.ExecutionRepository().Create(ctx, exec); err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Dispatch", workflowID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExternalRefKey, exec.ExternalRef))

	allowed := d.checkRateLimits(ctx, workflow)
	if !allowed {
		exec, err = d.markFailed(ctx, exec, models.DetailRateLimited)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, NewDispatchError("Dispatch", workflowID, err)
		}

		d.logger.WarnContext(ctx, "Dispatch rate limited",
			"workflow_id", workflow.ID,
			"owner_id", workflow.OwnerID,
			"external_ref", exec.ExternalRef,
		)

		return newHandle(exec), NewDispatchError("Dispatch", workflowID, ErrRateLimitExceeded)
	}

	if err := d.preflightTokens(ctx, workflow); err != nil {
		exec, markErr := d.markFailed(ctx, exec, models.DetailReauthRequired)
		if markErr != nil {
			otelhelper.SetError(span, markErr)

			return nil, NewDispatchError("Dispatch", workflowID, markErr)
		}

		otelhelper.SetError(span, err)

		return newHandle(exec), NewDispatchError("Dispatch", workflowID, err)
	}

	accepted, err := d.engine.Execute(ctx, workflow.DeployedRef, exec.ExternalRef, triggerPayload)
	if err != nil {
		d.logger.ErrorContext(ctx, "Engine dispatch failed",
			"workflow_id", workflow.ID,
			"external_ref", exec.ExternalRef,
			"error", err,
		)

		exec, markErr := d.markFailed(ctx, exec, models.DetailDispatchError)
		if markErr != nil {
			otelhelper.SetError(span, markErr)

			return nil, NewDispatchError("Dispatch", workflowID, markErr)
		}

		return newHandle(exec), nil
	}

	exec, err = d.markRunning(ctx, exec, accepted.EngineID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Dispatch", workflowID, err)
	}

	d.logger.InfoContext(ctx, "Workflow dispatched",
		"workflow_id", workflow.ID,
		"external_ref", exec.ExternalRef,
		"engine_id", exec.EngineID,
		"status", exec.Status,
	)

	return newHandle(exec), nil
}

// Cancel asks the engine to stop a run and records cancellation only
// once the engine confirmed. A pending execution with no engine run yet
// is cancelled locally.
func (d *Dispatcher) Cancel(ctx context.Context, executionID string) (*Handle, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.cancel",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	exec, err := d.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Cancel", executionID, err)
	}

	if !exec.CanCancel() {
		err := NewDispatchError("Cancel", executionID, ErrNotCancellable)
		otelhelper.SetError(span, err)

		return nil, err
	}

	if exec.EngineID != "" {
		if err := d.engine.CancelExecution(ctx, exec.EngineID); err != nil {
			otelhelper.SetError(span, err)

			return nil, NewDispatchError("Cancel", executionID, fmt.Errorf("engine refused cancellation: %w", err))
		}
	}

	exec, err = d.updateExecution(ctx, exec, func(e *models.WorkflowExecution) bool {
		if e.Status.IsTerminal() {
			return false
		}

		e.Status = models.ExecutionStatusCancelled

		if e.FinishedAt == nil {
			finishedAt := time.Now().UTC()
			e.FinishedAt = &finishedAt
		}

		return true
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewDispatchError("Cancel", executionID, err)
	}

	if exec.Status != models.ExecutionStatusCancelled {
		// The run finished while the cancel was in flight; the recorded
		// terminal outcome stands.
		return newHandle(exec), NewDispatchError("Cancel", executionID, ErrNotCancellable)
	}

	d.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", exec.ID,
		"external_ref", exec.ExternalRef,
	)

	return newHandle(exec), nil
}

// checkRateLimits consumes one slot per integration type the workflow
// references. A limiter backend failure allows the dispatch: dropping
// runs because the counter store is down costs more than briefly
// exceeding a quota.
func (d *Dispatcher) checkRateLimits(ctx context.Context, workflow *models.Workflow) bool {
	for _, integrationType := range workflow.IntegrationTypes() {
		key := ratelimit.Key{OwnerID: workflow.OwnerID, Type: integrationType}

		allowed, err := d.limiter.CheckAndIncrement(ctx, key)
		if err != nil {
			d.logger.WarnContext(ctx, "Rate limiter unavailable, allowing dispatch",
				"owner_id", workflow.OwnerID,
				"integration_type", integrationType,
				"error", err,
			)

			continue
		}

		if !allowed {
			return false
		}
	}

	return true
}

// preflightTokens fails a dispatch early when a referenced integration
// is missing or cannot produce a fresh token, instead of starting a run
// that is doomed on its first provider call.
func (d *Dispatcher) preflightTokens(ctx context.Context, workflow *models.Workflow) error {
	integrations := d.persistence.IntegrationRepository()

	for _, integrationType := range workflow.IntegrationTypes() {
		integration, err := integrations.GetByOwnerAndType(ctx, workflow.OwnerID, integrationType)
		if err != nil {
			if persistence.IsIntegrationNotFound(err) {
				return fmt.Errorf("no connected %s integration: %w", integrationType, vault.ErrReauthRequired)
			}

			return err
		}

		if _, err := d.vault.GetValidToken(ctx, integration.ID); err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, exec *models.WorkflowExecution, detail string) (*models.WorkflowExecution, error) {
	return d.updateExecution(ctx, exec, func(e *models.WorkflowExecution) bool {
		if e.Status.IsTerminal() {
			return false
		}

		e.Status = models.ExecutionStatusFailed
		e.StatusDetail = detail

		if e.FinishedAt == nil {
			finishedAt := time.Now().UTC()
			e.FinishedAt = &finishedAt
		}

		return true
	})
}

func (d *Dispatcher) markRunning(ctx context.Context, exec *models.WorkflowExecution, engineID string) (*models.WorkflowExecution, error) {
	return d.updateExecution(ctx, exec, func(e *models.WorkflowExecution) bool {
		changed := false

		if e.EngineID == "" && engineID != "" {
			e.EngineID = engineID
			changed = true
		}

		// A callback may already have moved the row past pending; the
		// reconciler's write wins and only the engine id is backfilled.
		if e.Status == models.ExecutionStatusPending {
			e.Status = models.ExecutionStatusRunning
			changed = true

			if e.StartedAt == nil {
				startedAt := time.Now().UTC()
				e.StartedAt = &startedAt
			}
		}

		return changed
	})
}

// updateExecution applies mutate and writes conditionally on the row
// version, re-reading and re-applying when a concurrent callback
// already moved the execution. mutate returns false when the stored
// state needs no write.
func (d *Dispatcher) updateExecution(ctx context.Context, exec *models.WorkflowExecution, mutate func(*models.WorkflowExecution) bool) (*models.WorkflowExecution, error) {
	executions := d.persistence.ExecutionRepository()

	for attempt := 1; ; attempt++ {
		if !mutate(exec) {
			return exec, nil
		}

		err := executions.Update(ctx, exec)
		if err == nil {
			return exec, nil
		}

		if !persistence.IsVersionConflict(err) || attempt >= maxUpdateAttempts {
			return nil, err
		}

		exec, err = executions.GetByID(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
	}
}
