package services

import (
	"context"
	"log/slog"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const (
	defaultExecutionPageSize = 50
	maxExecutionPageSize     = 200
)

// Runner dispatches and cancels workflow executions.
type Runner interface {
	Dispatch(ctx context.Context, workflowID string, triggerPayload map[string]any) (*dispatcher.Handle, error)
	Cancel(ctx context.Context, executionID string) (*dispatcher.Handle, error)
}

// Execution reads execution state and hands run/cancel requests to the
// dispatcher.
type Execution struct {
	persistence persistence.Persistence
	runner      Runner
	logger      *slog.Logger
}

// NewExecution creates a new execution service.
func NewExecution(persist persistence.Persistence, runner Runner, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persist,
		runner:      runner,
		logger:      logger.With("module", "execution_service"),
	}
}

// Run dispatches one execution of a workflow. Dispatch outcomes that are
// recorded on the execution row (rate limits, engine transport failures)
// come back in the handle, not as errors.
func (e *Execution) Run(ctx context.Context, workflowID string, triggerPayload map[string]any) (*dispatcher.Handle, error) {
	return e.runner.Dispatch(ctx, workflowID, triggerPayload)
}

// Get retrieves an execution by its ID.
func (e *Execution) Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

// ListByWorkflow returns a workflow's most recent executions.
func (e *Execution) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = defaultExecutionPageSize
	}

	if limit > maxExecutionPageSize {
		limit = maxExecutionPageSize
	}

	return e.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, limit)
}

// Cancel asks the engine to stop a run. The local record changes only
// once the engine confirms.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*dispatcher.Handle, error) {
	return e.runner.Cancel(ctx, executionID)
}
