package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const executionsKind = "executions"

// ExecutionRepository handles workflow execution file operations. A single
// mutex serializes writes so the version check-and-increment contract holds
// within the process.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// Create inserts a new execution, rejecting external ref collisions.
func (er *ExecutionRepository) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	existing, err := er.findByExternalRef(ctx, exec.ExternalRef)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewExecutionRefError("Create", exec.ExternalRef, persistence.ErrDuplicateExternalRef)
	}

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

	return writeRecord(er.root, executionsKind, exec.ID, exec)
}

// Update persists the execution conditionally on its version matching the
// stored record, then increments the version in place.
func (er *ExecutionRepository) Update(_ context.Context, exec *models.WorkflowExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	var stored models.WorkflowExecution

	err := readRecord(er.root, executionsKind, exec.ID, &stored)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewExecutionError("Update", exec.ID, persistence.ErrExecutionNotFound)
		}

		return err
	}

	if stored.Version != exec.Version {
		return persistence.NewExecutionError("Update", exec.ID, persistence.ErrVersionConflict)
	}

	exec.Version++
	exec.UpdatedAt = time.Now().UTC()

	err = writeRecord(er.root, executionsKind, exec.ID, exec)
	if err != nil {
		exec.Version--

		return err
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	var exec models.WorkflowExecution

	err := readRecord(er.root, executionsKind, id, &exec)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, err
	}

	return &exec, nil
}

// GetByExternalRef retrieves an execution by the ref inbound callbacks carry.
func (er *ExecutionRepository) GetByExternalRef(ctx context.Context, externalRef string) (*models.WorkflowExecution, error) {
	exec, err := er.findByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}

	if exec == nil {
		return nil, persistence.NewExecutionRefError("GetByExternalRef", externalRef, persistence.ErrExecutionNotFound)
	}

	return exec, nil
}

// ListByWorkflow returns the most recent executions of a workflow.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, exec := range all {
		if exec.WorkflowID == workflowID {
			executions = append(executions, exec)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// ListStale returns non-terminal executions whose last update is older than
// the cutoff, oldest first.
func (er *ExecutionRepository) ListStale(ctx context.Context, statuses []models.ExecutionStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	wanted := make(map[models.ExecutionStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	stale := make([]*models.WorkflowExecution, 0)

	for _, exec := range all {
		if wanted[exec.Status] && exec.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, exec)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if len(stale) > limit {
		stale = stale[:limit]
	}

	return stale, nil
}

// DeleteFinishedBefore purges terminal executions finished before the cutoff.
func (er *ExecutionRepository) DeleteFinishedBefore(ctx context.Context, finishedBefore time.Time) (int64, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int64

	for _, exec := range all {
		if exec.FinishedAt == nil || !exec.FinishedAt.Before(finishedBefore) {
			continue
		}

		err := removeRecord(er.root, executionsKind, exec.ID)
		if err != nil && !os.IsNotExist(err) {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}

func (er *ExecutionRepository) findByExternalRef(ctx context.Context, externalRef string) (*models.WorkflowExecution, error) {
	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, exec := range all {
		if exec.ExternalRef == externalRef {
			return exec, nil
		}
	}

	return nil, nil
}

func (er *ExecutionRepository) loadAll(_ context.Context) ([]*models.WorkflowExecution, error) {
	ids, err := listIDs(er.root, executionsKind)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		var exec models.WorkflowExecution

		err := readRecord(er.root, executionsKind, id, &exec)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, &exec)
	}

	return executions, nil
}
