// Package persistence provides the data storage abstraction for workflows,
// executions, integrations, and tokens.
package persistence

import (
	"context"
	"time"

	"github.com/loki-platform/loki/pkg/models"
)

// Persistence exposes the repositories backed by one storage engine.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	IntegrationRepository() IntegrationRepository
	TokenRepository() TokenRepository
	WebhookEventRepository() WebhookEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and pages workflow listings.
type ListWorkflowsOptions struct {
	OwnerID   string
	Status    *models.WorkflowStatus
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// WorkflowListResult carries one page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	Delete(ctx context.Context, id string) error

	// SetDeployed records the engine-side workflow id and activates the workflow.
	SetDeployed(ctx context.Context, id, deployedRef string) error
	SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error
}

// ExecutionRepository persists workflow executions. Update is conditional on
// the execution's Version matching the stored row (optimistic concurrency);
// a mismatch returns ErrVersionConflict and the caller re-reads. On success
// the repository increments exec.Version in place.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.WorkflowExecution) error
	Update(ctx context.Context, exec *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)

	// ListStale returns non-terminal executions whose last update is older
	// than the cutoff, oldest first. The poller feeds these back through the
	// reconciler.
	ListStale(ctx context.Context, statuses []models.ExecutionStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowExecution, error)

	// DeleteFinishedBefore purges terminal executions finished before the
	// cutoff and reports how many were removed.
	DeleteFinishedBefore(ctx context.Context, finishedBefore time.Time) (int64, error)
}

type IntegrationRepository interface {
	Save(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id string) (*models.Integration, error)
	GetByOwnerAndType(ctx context.Context, ownerID string, integrationType models.IntegrationType) (*models.Integration, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Integration, error)
	SetStatus(ctx context.Context, id string, status models.IntegrationStatus) error
	Delete(ctx context.Context, id string) error
}

// TokenRepository stores one token row per integration. Save replaces the
// stored pair in a single write.
type TokenRepository interface {
	Save(ctx context.Context, token *models.IntegrationToken) error
	Get(ctx context.Context, integrationID string) (*models.IntegrationToken, error)
	Delete(ctx context.Context, integrationID string) error
}

type WebhookEventRepository interface {
	Save(ctx context.Context, event *models.WebhookEvent) error
	GetByID(ctx context.Context, id string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id, result string, processedAt time.Time) error
}
