package file_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/persistence/file"
)

func TestExecutionRepository_CreateAndGetByExternalRef(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()

	exec := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusPending,
		ExternalRef: "ref-1",
	}

	require.NoError(t, repo.Create(ctx, exec))
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, int64(1), exec.Version)

	found, err := repo.GetByExternalRef(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, exec.ID, found.ID)
	assert.Equal(t, models.ExecutionStatusPending, found.Status)

	_, err = repo.GetByExternalRef(ctx, "ref-unknown")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_DuplicateExternalRef(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()

	first := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusPending,
		ExternalRef: "ref-dup",
	}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusPending,
		ExternalRef: "ref-dup",
	}

	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.True(t, persistence.IsDuplicateExternalRef(err))
}

func TestExecutionRepository_UpdateVersionConflict(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()

	exec := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusPending,
		ExternalRef: "ref-cas",
	}
	require.NoError(t, repo.Create(ctx, exec))

	copy1, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)

	copy2, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)

	copy1.Status = models.ExecutionStatusRunning
	require.NoError(t, repo.Update(ctx, copy1))
	assert.Equal(t, int64(2), copy1.Version)

	copy2.Status = models.ExecutionStatusFailed

	err = repo.Update(ctx, copy2)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestExecutionRepository_UpdateMissingExecution(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()

	err := repo.Update(t.Context(), &models.WorkflowExecution{ID: "missing", Version: 1})
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListStale(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()

	running := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		ExternalRef: "ref-running",
	}
	require.NoError(t, repo.Create(ctx, running))

	succeeded := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusSucceeded,
		ExternalRef: "ref-done",
	}
	require.NoError(t, repo.Create(ctx, succeeded))

	cutoff := time.Now().UTC().Add(time.Minute)

	stale, err := repo.ListStale(ctx, []models.ExecutionStatus{
		models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
	}, cutoff, 10)
	require.NoError(t, err)

	require.Len(t, stale, 1)
	assert.Equal(t, running.ID, stale[0].ID)

	stale, err = repo.ListStale(ctx, []models.ExecutionStatus{
		models.ExecutionStatusPending,
		models.ExecutionStatusRunning,
	}, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestExecutionRepository_DeleteFinishedBefore(t *testing.T) {
	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	ctx := t.Context()

	old := time.Now().UTC().Add(-48 * time.Hour)

	finished := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusSucceeded,
		ExternalRef: "ref-old",
		FinishedAt:  &old,
	}
	require.NoError(t, repo.Create(ctx, finished))

	active := &models.WorkflowExecution{
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		ExternalRef: "ref-active",
	}
	require.NoError(t, repo.Create(ctx, active))

	deleted, err := repo.DeleteFinishedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID(ctx, finished.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
}
