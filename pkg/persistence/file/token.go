package file

import (
	"context"
	"os"
	"time"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

const tokensKind = "tokens"

// TokenRepository stores the encrypted token pair per integration.
type TokenRepository struct {
	root string
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(root string) *TokenRepository {
	return &TokenRepository{root: root}
}

// Save replaces the stored token pair for the integration.
func (tr *TokenRepository) Save(_ context.Context, token *models.IntegrationToken) error {
	token.UpdatedAt = time.Now().UTC()

	return writeRecord(tr.root, tokensKind, token.IntegrationID, token)
}

// Get retrieves the stored token for an integration.
func (tr *TokenRepository) Get(_ context.Context, integrationID string) (*models.IntegrationToken, error) {
	var token models.IntegrationToken

	err := readRecord(tr.root, tokensKind, integrationID, &token)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrTokenNotFound
		}

		return nil, err
	}

	return &token, nil
}

// Delete removes the stored token for an integration.
func (tr *TokenRepository) Delete(_ context.Context, integrationID string) error {
	err := removeRecord(tr.root, tokensKind, integrationID)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
