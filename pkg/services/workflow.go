package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// EngineDeployer is the slice of the engine client the workflow
// lifecycle needs.
type EngineDeployer interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) (string, error)
	ActivateWorkflow(ctx context.Context, engineWorkflowID string) error
	DeactivateWorkflow(ctx context.Context, engineWorkflowID string) error
	DeleteWorkflow(ctx context.Context, engineWorkflowID string) error
	WebhookURL(path string) string
}

// Workflow manages workflow definitions and their engine lifecycle:
// deployed workflows live on the engine under DeployedRef, pause and
// resume toggle them there, local state tracks the outcome.
type Workflow struct {
	persistence persistence.Persistence
	engine      EngineDeployer
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persist persistence.Persistence, engineClient EngineDeployer, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persist,
		engine:      engineClient,
		validate:    validator.New(),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	OwnerID string
	Status  *models.WorkflowStatus

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	opts := persistence.ListWorkflowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		OwnerID:   req.OwnerID,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}

	result, err := w.persistence.WorkflowRepository().ListWorkflows(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil {
		allowedStatuses := []models.WorkflowStatus{
			models.WorkflowStatusDraft,
			models.WorkflowStatusActive,
			models.WorkflowStatusPaused,
			models.WorkflowStatusError,
		}

		if !slices.Contains(allowedStatuses, *req.Status) {
			return NewValidationError(
				"validateListWorkflowsRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	if req.OwnerID != "" {
		req.OwnerID = strings.TrimSpace(req.OwnerID)
		if req.OwnerID == "" {
			return ErrEmptyOwnerID
		}
	}

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create adds a new workflow to the repository. New workflows start as
// drafts; the repository assigns the ID and timestamps.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow.ID = ""
	workflow.DeployedRef = ""

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if err := w.validate.Struct(workflow); err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update modifies an existing workflow's definition. Ownership, lifecycle
// status, and the engine reference only change through Deploy, Pause,
// Resume, and Delete.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.OwnerID = existing.OwnerID
	workflow.Status = existing.Status
	workflow.DeployedRef = existing.DeployedRef
	workflow.CreatedAt = existing.CreatedAt

	if err := w.validate.Struct(workflow); err != nil {
		return nil, NewValidationError("Update", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Deploy translates the workflow into an engine definition, creates and
// activates it there, and records the engine reference. A failure on the
// engine leaves the workflow in status error.
func (w *Workflow) Deploy(ctx context.Context, workflowID string) (*models.Workflow, error) {
	repo := w.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusActive {
		return nil, ErrAlreadyDeployed
	}

	if err := w.validateForDeploy(workflow); err != nil {
		return nil, err
	}

	// A stale engine copy from an earlier deployment is replaced.
	if workflow.DeployedRef != "" {
		err = w.engine.DeleteWorkflow(ctx, workflow.DeployedRef)
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to delete previous engine workflow",
				"workflow_id", workflowID,
				"deployed_ref", workflow.DeployedRef,
				"error", err,
			)
		}
	}

	engineID, err := w.engine.CreateWorkflow(ctx, workflow)
	if err != nil {
		w.markDeployError(ctx, workflowID)

		return nil, fmt.Errorf("failed to create engine workflow: %w", err)
	}

	err = w.engine.ActivateWorkflow(ctx, engineID)
	if err != nil {
		if deleteErr := w.engine.DeleteWorkflow(ctx, engineID); deleteErr != nil {
			w.logger.WarnContext(ctx, "Failed to delete unactivated engine workflow",
				"workflow_id", workflowID,
				"deployed_ref", engineID,
				"error", deleteErr,
			)
		}

		w.markDeployError(ctx, workflowID)

		return nil, fmt.Errorf("failed to activate engine workflow: %w", err)
	}

	err = repo.SetDeployed(ctx, workflowID, engineID)
	if err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deployed",
		"workflow_id", workflowID,
		"deployed_ref", engineID,
	)

	return repo.GetByID(ctx, workflowID)
}

// Pause suspends a deployed workflow on the engine. Local state changes
// only after the engine confirms the deactivation.
func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	repo := w.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsDeployed() {
		return nil, ErrWorkflowNotDeployed
	}

	err = w.engine.DeactivateWorkflow(ctx, workflow.DeployedRef)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate engine workflow: %w", err)
	}

	err = repo.SetStatus(ctx, workflowID, models.WorkflowStatusPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to record pause: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow paused", "workflow_id", workflowID)

	return repo.GetByID(ctx, workflowID)
}

// Resume reactivates a paused workflow on the engine.
func (w *Workflow) Resume(ctx context.Context, workflowID string) (*models.Workflow, error) {
	repo := w.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusPaused || workflow.DeployedRef == "" {
		return nil, ErrWorkflowNotPaused
	}

	err = w.engine.ActivateWorkflow(ctx, workflow.DeployedRef)
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate engine workflow: %w", err)
	}

	err = repo.SetStatus(ctx, workflowID, models.WorkflowStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to record resume: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow resumed", "workflow_id", workflowID)

	return repo.GetByID(ctx, workflowID)
}

// Delete removes a workflow. The engine copy is deleted best effort; a
// failure there never blocks the local delete.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	repo := w.persistence.WorkflowRepository()

	workflow, err := repo.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if workflow.DeployedRef != "" {
		err = w.engine.DeleteWorkflow(ctx, workflow.DeployedRef)
		if err != nil {
			w.logger.WarnContext(ctx, "Failed to delete engine workflow",
				"workflow_id", workflowID,
				"deployed_ref", workflow.DeployedRef,
				"error", err,
			)
		}
	}

	err = repo.Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// WebhookEndpoint returns the engine-side URL a deployed
// webhook-triggered workflow listens on, or empty for other triggers.
func (w *Workflow) WebhookEndpoint(workflow *models.Workflow) string {
	path := engine.TriggerWebhookPath(workflow)
	if path == "" {
		return ""
	}

	return w.engine.WebhookURL(path)
}

func (w *Workflow) validateForDeploy(workflow *models.Workflow) error {
	if workflow.Name == "" {
		return ErrWorkflowNameRequired
	}

	if len(workflow.Steps) == 0 {
		return ErrStepsRequired
	}

	return nil
}

func (w *Workflow) markDeployError(ctx context.Context, workflowID string) {
	err := w.persistence.WorkflowRepository().SetStatus(ctx, workflowID, models.WorkflowStatusError)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to record deploy error status",
			"workflow_id", workflowID,
			"error", err,
		)
	}
}
