package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// TokenRepository stores the encrypted token pair per integration.
type TokenRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *sql.DB, logger *slog.Logger) *TokenRepository {
	return &TokenRepository{db: db, logger: logger}
}

// Save replaces the stored token pair for the integration in a single write.
func (tr *TokenRepository) Save(ctx context.Context, token *models.IntegrationToken) error {
	token.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO integration_tokens (
			integration_id, access_token, refresh_token, token_type, scope, expires_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (integration_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := tr.db.ExecContext(ctx, query,
		token.IntegrationID,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		token.Scope,
		sql.NullTime{Time: token.ExpiresAt, Valid: !token.ExpiresAt.IsZero()},
		token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token for integration %s: %w", token.IntegrationID, err)
	}

	return nil
}

// Get retrieves the stored token for an integration.
func (tr *TokenRepository) Get(ctx context.Context, integrationID string) (*models.IntegrationToken, error) {
	query := `
		SELECT integration_id, access_token, refresh_token, token_type, scope, expires_at, updated_at
		FROM integration_tokens
		WHERE integration_id = $1
	`

	var (
		token     models.IntegrationToken
		expiresAt sql.NullTime
	)

	err := tr.db.QueryRowContext(ctx, query, integrationID).Scan(
		&token.IntegrationID,
		&token.AccessToken,
		&token.RefreshToken,
		&token.TokenType,
		&token.Scope,
		&expiresAt,
		&token.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTokenNotFound
		}

		return nil, fmt.Errorf("failed to get token for integration %s: %w", integrationID, err)
	}

	if expiresAt.Valid {
		token.ExpiresAt = expiresAt.Time
	}

	return &token, nil
}

// Delete removes the stored token for an integration.
func (tr *TokenRepository) Delete(ctx context.Context, integrationID string) error {
	_, err := tr.db.ExecContext(ctx, "DELETE FROM integration_tokens WHERE integration_id = $1", integrationID)
	if err != nil {
		return fmt.Errorf("failed to delete token for integration %s: %w", integrationID, err)
	}

	return nil
}
