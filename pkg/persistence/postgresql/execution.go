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
	"github.com/lib/pq"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const uniqueViolation = "23505"

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution. The external ref is unique; a collision
// returns ErrDuplicateExternalRef.
func (er *ExecutionRepository) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		exec.ID = id.String()
	}

	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}

	exec.UpdatedAt = now

	if exec.Version == 0 {
		exec.Version = 1
	}

	stepResultsJSON, err := json.Marshal(exec.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, status, status_detail, external_ref, engine_id,
			step_results, version, created_at, updated_at, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = er.db.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.Status,
		exec.StatusDetail,
		exec.ExternalRef,
		exec.EngineID,
		stepResultsJSON,
		exec.Version,
		exec.CreatedAt,
		exec.UpdatedAt,
		exec.StartedAt,
		exec.FinishedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionRefError("Create", exec.ExternalRef, persistence.ErrDuplicateExternalRef)
		}

		return persistence.NewExecutionError("Create", exec.ID, err)
	}

	return nil
}

// Update persists the execution conditionally on its version matching the
// stored row. A lost race returns ErrVersionConflict; on success the version
// is incremented in place.
func (er *ExecutionRepository) Update(ctx context.Context, exec *models.WorkflowExecution) error {
	stepResultsJSON, err := json.Marshal(exec.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	now := time.Now().UTC()

	query := `
		UPDATE workflow_executions
		SET status = $3,
			status_detail = $4,
			engine_id = $5,
			step_results = $6,
			version = version + 1,
			updated_at = $7,
			started_at = $8,
			finished_at = $9
		WHERE id = $1 AND version = $2
	`

	result, err := er.db.ExecContext(ctx, query,
		exec.ID,
		exec.Version,
		exec.Status,
		exec.StatusDetail,
		exec.EngineID,
		stepResultsJSON,
		now,
		exec.StartedAt,
		exec.FinishedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", exec.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", exec.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = er.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)", exec.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", exec.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", exec.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", exec.ID, persistence.ErrVersionConflict)
	}

	exec.Version++
	exec.UpdatedAt = now

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	exec, err := scanExecution(er.db.QueryRowContext(ctx, executionSelect+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return exec, nil
}

// GetByExternalRef retrieves an execution by the ref inbound callbacks carry.
func (er *ExecutionRepository) GetByExternalRef(ctx context.Context, externalRef string) (*models.WorkflowExecution, error) {
	exec, err := scanExecution(er.db.QueryRowContext(ctx, executionSelect+" WHERE external_ref = $1", externalRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionRefError("GetByExternalRef", externalRef, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionRefError("GetByExternalRef", externalRef, err)
	}

	return exec, nil
}

// ListByWorkflow returns the most recent executions of a workflow.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := executionSelect + " WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT $2"

	return er.queryExecutions(ctx, query, workflowID, limit)
}

// ListStale returns non-terminal executions whose last update is older than
// the cutoff, oldest first.
func (er *ExecutionRepository) ListStale(ctx context.Context, statuses []models.ExecutionStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}

	query := executionSelect + " WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3"

	return er.queryExecutions(ctx, query, pq.Array(values), updatedBefore, limit)
}

// DeleteFinishedBefore purges terminal executions finished before the cutoff.
func (er *ExecutionRepository) DeleteFinishedBefore(ctx context.Context, finishedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM workflow_executions
		WHERE finished_at IS NOT NULL AND finished_at < $1
	`

	result, err := er.db.ExecContext(ctx, query, finishedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	return affected, nil
}

func (er *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

const executionSelect = `
	SELECT id, workflow_id, status, status_detail, external_ref, engine_id,
		   step_results, version, created_at, updated_at, started_at, finished_at
	FROM workflow_executions`

// scanExecution scans an execution row from a Row or Rows scanner.
func scanExecution(scanner interface{ Scan(dest ...any) error }) (*models.WorkflowExecution, error) {
	var (
		exec            models.WorkflowExecution
		stepResultsJSON []byte
		startedAt       sql.NullTime
		finishedAt      sql.NullTime
	)

	err := scanner.Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.Status,
		&exec.StatusDetail,
		&exec.ExternalRef,
		&exec.EngineID,
		&stepResultsJSON,
		&exec.Version,
		&exec.CreatedAt,
		&exec.UpdatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepResultsJSON, &exec.StepResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
	}

	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Time
	}

	return &exec, nil
}
