package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/integrations"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/vault"
)

// typeLabels maps integration types to their display casing.
var typeLabels = map[models.IntegrationType]string{
	models.IntegrationTypeSlack:  "Slack",
	models.IntegrationTypeGoogle: "Google",
	models.IntegrationTypeGitHub: "GitHub",
	models.IntegrationTypeNotion: "Notion",
}

// StateStore issues and consumes one-shot OAuth state tokens.
type StateStore interface {
	Create(ctx context.Context, ownerID string, integrationType models.IntegrationType) (string, error)
	Consume(ctx context.Context, state string) (*vault.StateData, error)
}

// TokenVault is the slice of the vault the integration service needs.
type TokenVault interface {
	GetValidToken(ctx context.Context, integrationID string) (*vault.AccessToken, error)
	EncryptPair(token *oauth2.Token) (accessToken, refreshToken string, err error)
}

// ActionCatalog executes provider actions and identifies token owners.
type ActionCatalog interface {
	Execute(ctx context.Context, integrationType models.IntegrationType, token, action string, params map[string]any) (map[string]any, error)
	Identify(ctx context.Context, integrationType models.IntegrationType, token string) (*integrations.RemoteAccount, error)
}

// RateChecker decides whether one more provider call fits the window.
type RateChecker interface {
	CheckAndIncrement(ctx context.Context, key ratelimit.Key) (bool, error)
}

// Integration manages provider connections: the OAuth connect flow,
// token storage through the vault, and direct action execution.
type Integration struct {
	persistence persistence.Persistence
	providers   *vault.Providers
	states      StateStore
	tokens      TokenVault
	catalog     ActionCatalog
	limiter     RateChecker
	logger      *slog.Logger
}

// NewIntegration creates a new integration service.
func NewIntegration(
	persist persistence.Persistence,
	providers *vault.Providers,
	states StateStore,
	tokens TokenVault,
	catalog ActionCatalog,
	limiter RateChecker,
	logger *slog.Logger,
) *Integration {
	return &Integration{
		persistence: persist,
		providers:   providers,
		states:      states,
		tokens:      tokens,
		catalog:     catalog,
		limiter:     limiter,
		logger:      logger.With("module", "integration_service"),
	}
}

// Connect starts the OAuth flow for a provider: it stores a one-shot
// state token and returns the authorize URL to redirect the user to.
func (s *Integration) Connect(ctx context.Context, ownerID string, integrationType models.IntegrationType) (authorizeURL, state string, err error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", "", ErrEmptyOwnerID
	}

	config, err := s.providers.OAuthConfig(integrationType)
	if err != nil {
		return "", "", err
	}

	state, err = s.states.Create(ctx, ownerID, integrationType)
	if err != nil {
		return "", "", fmt.Errorf("failed to create oauth state: %w", err)
	}

	return config.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

// CompleteCallback finishes the OAuth flow: it consumes the state,
// exchanges the code for a token pair, stores the pair encrypted, and
// upserts the integration as connected. Identification of the remote
// account only affects the display name; its failure never fails the
// connection.
func (s *Integration) CompleteCallback(ctx context.Context, state, code string) (*models.Integration, error) {
	data, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}

	config, err := s.providers.OAuthConfig(data.IntegrationType)
	if err != nil {
		return nil, err
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	account, err := s.catalog.Identify(ctx, data.IntegrationType, token.AccessToken)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to identify remote account",
			"integration_type", data.IntegrationType,
			"error", err,
		)

		account = nil
	}

	integration, err := s.upsertIntegration(ctx, data, account)
	if err != nil {
		return nil, err
	}

	err = s.storeTokenPair(ctx, integration.ID, token)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Integration connected",
		"integration_id", integration.ID,
		"integration_type", integration.Type,
		"owner_id", integration.OwnerID,
	)

	return integration, nil
}

// List returns the owner's integrations.
func (s *Integration) List(ctx context.Context, ownerID string) ([]*models.Integration, error) {
	return s.persistence.IntegrationRepository().ListByOwner(ctx, ownerID)
}

// Disconnect deletes the stored token pair and marks the integration
// disconnected. The integration row stays for history.
func (s *Integration) Disconnect(ctx context.Context, ownerID, integrationID string) error {
	repo := s.persistence.IntegrationRepository()

	integration, err := repo.GetByID(ctx, integrationID)
	if err != nil {
		return err
	}

	// Another owner's integration is reported as absent, not forbidden.
	if integration.OwnerID != ownerID {
		return ErrIntegrationNotFound
	}

	err = s.persistence.TokenRepository().Delete(ctx, integrationID)
	if err != nil && !persistence.IsTokenNotFound(err) {
		return fmt.Errorf("failed to delete integration token: %w", err)
	}

	err = repo.SetStatus(ctx, integrationID, models.IntegrationStatusDisconnected)
	if err != nil {
		return fmt.Errorf("failed to mark integration disconnected: %w", err)
	}

	s.logger.InfoContext(ctx, "Integration disconnected",
		"integration_id", integrationID,
		"owner_id", ownerID,
	)

	return nil
}

// ExecuteAction runs one provider action on behalf of the owner, using
// the vault-managed token. Calls count against the owner's rate window.
func (s *Integration) ExecuteAction(
	ctx context.Context,
	ownerID string,
	integrationType models.IntegrationType,
	action string,
	params map[string]any,
) (map[string]any, error) {
	integration, err := s.persistence.IntegrationRepository().GetByOwnerAndType(ctx, ownerID, integrationType)
	if err != nil {
		return nil, err
	}

	if integration.Status != models.IntegrationStatusConnected {
		return nil, vault.NewTokenError("ExecuteAction", integration.ID, vault.ErrReauthRequired)
	}

	allowed, err := s.limiter.CheckAndIncrement(ctx, ratelimit.Key{OwnerID: ownerID, Type: integrationType})
	if err != nil {
		// A broken limiter backend must not take provider calls down
		// with it.
		s.logger.WarnContext(ctx, "Rate limiter unavailable, allowing action",
			"owner_id", ownerID,
			"integration_type", integrationType,
			"error", err,
		)
	} else if !allowed {
		return nil, dispatcher.ErrRateLimitExceeded
	}

	token, err := s.tokens.GetValidToken(ctx, integration.ID)
	if err != nil {
		return nil, err
	}

	return s.catalog.Execute(ctx, integrationType, token.Token, action, params)
}

func (s *Integration) upsertIntegration(
	ctx context.Context,
	data *vault.StateData,
	account *integrations.RemoteAccount,
) (*models.Integration, error) {
	repo := s.persistence.IntegrationRepository()

	integration, err := repo.GetByOwnerAndType(ctx, data.OwnerID, data.IntegrationType)
	if err != nil {
		if !persistence.IsIntegrationNotFound(err) {
			return nil, err
		}

		integration = &models.Integration{
			OwnerID: data.OwnerID,
			Type:    data.IntegrationType,
		}
	}

	integration.Status = models.IntegrationStatusConnected
	integration.Name = displayName(data.IntegrationType, account)

	err = repo.Save(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to save integration: %w", err)
	}

	return integration, nil
}

func (s *Integration) storeTokenPair(ctx context.Context, integrationID string, token *oauth2.Token) error {
	encryptedAccess, encryptedRefresh, err := s.tokens.EncryptPair(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token pair: %w", err)
	}

	err = s.persistence.TokenRepository().Save(ctx, &models.IntegrationToken{
		IntegrationID: integrationID,
		AccessToken:   encryptedAccess,
		RefreshToken:  encryptedRefresh,
		TokenType:     token.TokenType,
		ExpiresAt:     token.Expiry,
	})
	if err != nil {
		return fmt.Errorf("failed to store token pair: %w", err)
	}

	return nil
}

func displayName(integrationType models.IntegrationType, account *integrations.RemoteAccount) string {
	label := typeLabels[integrationType]
	if label == "" {
		name := string(integrationType)
		label = strings.ToUpper(name[:1]) + name[1:]
	}

	if account == nil || account.Name == "" {
		return label + " - Default"
	}

	return label + " - " + account.Name
}
