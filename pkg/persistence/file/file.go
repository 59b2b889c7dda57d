// Package file provides file-based persistence for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/loki-platform/loki/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface on the file
// system. One JSON file per record, one directory per record type. It is
// single-process: cross-record coordination is a per-repository mutex, which
// is enough for the optimistic-concurrency contract the repositories expose.
type Persistence struct {
	root             string
	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	integrationRepo  *IntegrationRepository
	tokenRepo        *TokenRepository
	webhookEventRepo *WebhookEventRepository
}

// NewPersistence creates a new instance rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		workflowRepo:     NewWorkflowRepository(cleanRoot),
		executionRepo:    NewExecutionRepository(cleanRoot),
		integrationRepo:  NewIntegrationRepository(cleanRoot),
		tokenRepo:        NewTokenRepository(cleanRoot),
		webhookEventRepo: NewWebhookEventRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is
// nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) IntegrationRepository() persistence.IntegrationRepository {
	return fp.integrationRepo
}

func (fp *Persistence) TokenRepository() persistence.TokenRepository {
	return fp.tokenRepo
}

func (fp *Persistence) WebhookEventRepository() persistence.WebhookEventRepository {
	return fp.webhookEventRepo
}
