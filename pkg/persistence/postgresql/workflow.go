package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save inserts or updates a workflow.
func (wr *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	triggerConfigJSON, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	stepsJSON, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	tagsJSON, err := json.Marshal(workflow.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, owner_id, name, description, status, trigger_type,
			trigger_config, steps, tags, deployed_ref, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			steps = EXCLUDED.steps,
			tags = EXCLUDED.tags,
			deployed_ref = EXCLUDED.deployed_ref,
			updated_at = EXCLUDED.updated_at
	`

	_, err = wr.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.OwnerID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.TriggerType,
		triggerConfigJSON,
		stepsJSON,
		tagsJSON,
		workflow.DeployedRef,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// GetByID retrieves a workflow by its ID.
func (wr *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, owner_id, name, description, status, trigger_type,
			   trigger_config, steps, tags, deployed_ref, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow, err := scanWorkflow(wr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// ListWorkflows returns paginated and filtered workflows.
func (wr *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	if opts.SortOrder != "asc" && opts.SortOrder != "desc" {
		return nil, fmt.Errorf("invalid sort order: %s", opts.SortOrder)
	}

	where := " WHERE 1=1"
	args := make([]any, 0, 4)

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var totalCount int64

	err := wr.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `
		SELECT id, owner_id, name, description, status, trigger_type,
			   trigger_config, steps, tags, deployed_ref, created_at, updated_at
		FROM workflows` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", opts.SortBy, opts.SortOrder, len(args)+1, len(args)+2)

	args = append(args, opts.Limit, opts.Offset)

	rows, err := wr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	workflows := make([]*models.Workflow, 0, opts.Limit)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(workflows)) < totalCount,
	}, nil
}

// Delete removes a workflow and, via cascade, its executions.
func (wr *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := wr.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SetDeployed records the engine-side workflow id and activates the workflow.
func (wr *WorkflowRepository) SetDeployed(ctx context.Context, id, deployedRef string) error {
	query := `
		UPDATE workflows
		SET deployed_ref = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := wr.db.ExecContext(ctx, query, id, deployedRef, models.WorkflowStatusActive)
	if err != nil {
		return persistence.NewWorkflowError("SetDeployed", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("SetDeployed", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("SetDeployed", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SetStatus updates only the workflow status.
func (wr *WorkflowRepository) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	result, err := wr.db.ExecContext(ctx, "UPDATE workflows SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return persistence.NewWorkflowError("SetStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("SetStatus", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("SetStatus", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// scanWorkflow scans a workflow row from a Row or Rows scanner.
func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*models.Workflow, error) {
	var (
		workflow          models.Workflow
		triggerConfigJSON []byte
		stepsJSON         []byte
		tagsJSON          []byte
		deployedRef       sql.NullString
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.OwnerID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.TriggerType,
		&triggerConfigJSON,
		&stepsJSON,
		&tagsJSON,
		&deployedRef,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerConfigJSON, &workflow.TriggerConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(tagsJSON, &workflow.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	workflow.DeployedRef = deployedRef.String

	return &workflow, nil
}
