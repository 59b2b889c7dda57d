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

const integrationsKind = "integrations"

// IntegrationRepository handles integration file operations.
type IntegrationRepository struct {
	root string
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(root string) *IntegrationRepository {
	return &IntegrationRepository{root: root}
}

// Save saves an integration to the file system.
func (ir *IntegrationRepository) Save(_ context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate integration ID: %w", err)
		}

		integration.ID = id.String()
	}

	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}

	integration.UpdatedAt = now

	return writeRecord(ir.root, integrationsKind, integration.ID, integration)
}

// GetByID retrieves an integration by its ID.
func (ir *IntegrationRepository) GetByID(_ context.Context, id string) (*models.Integration, error) {
	var integration models.Integration

	err := readRecord(ir.root, integrationsKind, id, &integration)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrIntegrationNotFound
		}

		return nil, err
	}

	return &integration, nil
}

// GetByOwnerAndType retrieves the owner's integration for a provider type.
func (ir *IntegrationRepository) GetByOwnerAndType(ctx context.Context, ownerID string, integrationType models.IntegrationType) (*models.Integration, error) {
	integrations, err := ir.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	for _, integration := range integrations {
		if integration.Type == integrationType {
			return integration, nil
		}
	}

	return nil, persistence.ErrIntegrationNotFound
}

// ListByOwner returns all integrations of an owner.
func (ir *IntegrationRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Integration, error) {
	ids, err := listIDs(ir.root, integrationsKind)
	if err != nil {
		return nil, err
	}

	integrations := make([]*models.Integration, 0)

	for _, id := range ids {
		integration, err := ir.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if integration.OwnerID == ownerID {
			integrations = append(integrations, integration)
		}
	}

	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].CreatedAt.Before(integrations[j].CreatedAt)
	})

	return integrations, nil
}

// SetStatus updates only the integration status.
func (ir *IntegrationRepository) SetStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	integration, err := ir.GetByID(ctx, id)
	if err != nil {
		return err
	}

	integration.Status = status

	return ir.Save(ctx, integration)
}

// Delete removes an integration and its stored token.
func (ir *IntegrationRepository) Delete(_ context.Context, id string) error {
	err := removeRecord(ir.root, integrationsKind, id)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrIntegrationNotFound
		}

		return err
	}

	if err := removeRecord(ir.root, tokensKind, id); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
