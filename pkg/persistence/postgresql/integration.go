package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// IntegrationRepository handles integration database operations.
type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

// Save inserts or updates an integration.
func (ir *IntegrationRepository) Save(ctx context.Context, integration *models.Integration) error {
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

	query := `
		INSERT INTO integrations (id, owner_id, type, status, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
	`

	_, err := ir.db.ExecContext(ctx, query,
		integration.ID,
		integration.OwnerID,
		integration.Type,
		integration.Status,
		integration.Name,
		integration.CreatedAt,
		integration.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save integration %s: %w", integration.ID, err)
	}

	return nil
}

// GetByID retrieves an integration by its ID.
func (ir *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	integration, err := scanIntegration(ir.db.QueryRowContext(ctx, integrationSelect+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrIntegrationNotFound
		}

		return nil, fmt.Errorf("failed to get integration %s: %w", id, err)
	}

	return integration, nil
}

// GetByOwnerAndType retrieves the owner's integration for a provider type.
func (ir *IntegrationRepository) GetByOwnerAndType(ctx context.Context, ownerID string, integrationType models.IntegrationType) (*models.Integration, error) {
	query := integrationSelect + " WHERE owner_id = $1 AND type = $2"

	integration, err := scanIntegration(ir.db.QueryRowContext(ctx, query, ownerID, integrationType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrIntegrationNotFound
		}

		return nil, fmt.Errorf("failed to get %s integration for owner %s: %w", integrationType, ownerID, err)
	}

	return integration, nil
}

// ListByOwner returns all integrations of an owner.
func (ir *IntegrationRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Integration, error) {
	rows, err := ir.db.QueryContext(ctx, integrationSelect+" WHERE owner_id = $1 ORDER BY created_at ASC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations for owner %s: %w", ownerID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	integrations := make([]*models.Integration, 0)

	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}

		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integrations: %w", err)
	}

	return integrations, nil
}

// SetStatus updates only the integration status.
func (ir *IntegrationRepository) SetStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	result, err := ir.db.ExecContext(ctx, "UPDATE integrations SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to set integration %s status: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set integration %s status: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrIntegrationNotFound
	}

	return nil
}

// Delete removes an integration and, via cascade, its token.
func (ir *IntegrationRepository) Delete(ctx context.Context, id string) error {
	result, err := ir.db.ExecContext(ctx, "DELETE FROM integrations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete integration %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete integration %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.ErrIntegrationNotFound
	}

	return nil
}

const integrationSelect = `
	SELECT id, owner_id, type, status, name, created_at, updated_at
	FROM integrations`

func scanIntegration(scanner interface{ Scan(dest ...any) error }) (*models.Integration, error) {
	var integration models.Integration

	err := scanner.Scan(
		&integration.ID,
		&integration.OwnerID,
		&integration.Type,
		&integration.Status,
		&integration.Name,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &integration, nil
}
