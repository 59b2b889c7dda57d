package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const workflowsKind = "workflows"

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
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

	return writeRecord(wr.root, workflowsKind, workflow.ID, workflow)
}

// GetByID retrieves a workflow by its ID.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readRecord(wr.root, workflowsKind, id, &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, err
	}

	return &workflow, nil
}

// ListWorkflows returns paginated and filtered workflows with in-memory
// filtering, the file store's equivalent of the SQL listing.
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

	ids, err := listIDs(wr.root, workflowsKind)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if opts.OwnerID != "" && workflow.OwnerID != opts.OwnerID {
			continue
		}

		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, workflow)
	}

	wr.sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	startIdx := opts.Offset
	if startIdx > len(filtered) {
		startIdx = len(filtered)
	}

	endIdx := startIdx + opts.Limit
	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.WorkflowListResult{
		Workflows:   filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	err := removeRecord(wr.root, workflowsKind, id)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return err
	}

	return nil
}

// SetDeployed records the engine-side workflow id and activates the workflow.
func (wr *WorkflowRepository) SetDeployed(ctx context.Context, id, deployedRef string) error {
	workflow, err := wr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	workflow.DeployedRef = deployedRef
	workflow.Status = models.WorkflowStatusActive

	return wr.Save(ctx, workflow)
}

// SetStatus updates only the workflow status.
func (wr *WorkflowRepository) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	workflow, err := wr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	workflow.Status = status

	return wr.Save(ctx, workflow)
}

func (wr *WorkflowRepository) sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.Slice(workflows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}
