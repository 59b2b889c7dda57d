// Package vault stores integration credentials encrypted at rest and
// hands out access tokens that are guaranteed valid for a safety margin.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/persistence"
)

const defaultExpiryMargin = 60 * time.Second

// TokenRefresher exchanges a refresh token for a fresh token pair at the
// provider's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, integration *models.Integration, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher is the production refresher: the refresh-token grant
// against the provider endpoints registered in Providers.
type OAuthRefresher struct {
	providers *Providers
}

func NewOAuthRefresher(providers *Providers) *OAuthRefresher {
	return &OAuthRefresher{providers: providers}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, integration *models.Integration, refreshToken string) (*oauth2.Token, error) {
	config, err := r.providers.OAuthConfig(integration.Type)
	if err != nil {
		return nil, err
	}

	token, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	return token, nil
}

// AccessToken is a decrypted, ready-to-use credential. Only the vault
// ever sees the encrypted form.
type AccessToken struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
}

type Vault struct {
	persistence persistence.Persistence
	cipher      *Cipher
	refresher   TokenRefresher
	margin      time.Duration
	flight      singleflight.Group
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewVault(
	persist persistence.Persistence,
	cipher *Cipher,
	refresher TokenRefresher,
	margin time.Duration,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Vault {
	if margin <= 0 {
		margin = defaultExpiryMargin
	}

	return &Vault{
		persistence: persist,
		cipher:      cipher,
		refresher:   refresher,
		margin:      margin,
		tracer:      tracer,
		logger:      logger.With("module", "vault"),
	}
}

// GetValidToken returns a decrypted access token valid for at least the
// configured margin, refreshing it through the provider when needed.
// Concurrent callers for the same integration collapse to one in-flight
// refresh; every waiter receives that flight's result.
func (v *Vault) GetValidToken(ctx context.Context, integrationID string) (*AccessToken, error) {
	ctx, span := otelhelper.StartSpan(ctx, v.tracer, "vault.get_valid_token",
		attribute.String(otelhelper.IntegrationIDKey, integrationID),
	)
	defer span.End()

	stored, err := v.persistence.TokenRepository().Get(ctx, integrationID)
	if err != nil {
		if persistence.IsTokenNotFound(err) {
			err = NewTokenError("get", integrationID, ErrReauthRequired)
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	if !stored.ExpiresWithin(time.Now().UTC(), v.margin) {
		token, err := v.decrypt(stored)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		return token, nil
	}

	result, err, _ := v.flight.Do(integrationID, func() (any, error) {
		return v.refresh(ctx, integrationID)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	token, ok := result.(*AccessToken)
	if !ok {
		return nil, NewTokenError("refresh", integrationID, fmt.Errorf("unexpected flight result type %T", result))
	}

	return token, nil
}

// refresh runs inside the singleflight: it re-reads the stored token so
// waiters queued behind a finished refresh do not trigger another one.
func (v *Vault) refresh(ctx context.Context, integrationID string) (*AccessToken, error) {
	stored, err := v.persistence.TokenRepository().Get(ctx, integrationID)
	if err != nil {
		return nil, NewTokenError("refresh", integrationID, err)
	}

	if !stored.ExpiresWithin(time.Now().UTC(), v.margin) {
		return v.decrypt(stored)
	}

	integration, err := v.persistence.IntegrationRepository().GetByID(ctx, integrationID)
	if err != nil {
		return nil, NewTokenError("refresh", integrationID, err)
	}

	if stored.RefreshToken == "" {
		return nil, v.markReauthRequired(ctx, integrationID, fmt.Errorf("no refresh token stored: %w", ErrReauthRequired))
	}

	refreshToken, err := v.cipher.Decrypt(stored.RefreshToken)
	if err != nil {
		return nil, NewTokenError("refresh", integrationID, err)
	}

	fresh, err := v.refresher.Refresh(ctx, integration, refreshToken)
	if err != nil {
		v.logger.ErrorContext(ctx, "Token refresh rejected by provider",
			"integration_id", integrationID,
			"integration_type", integration.Type,
			"error", err,
		)

		return nil, v.markReauthRequired(ctx, integrationID, fmt.Errorf("%w: %w", ErrReauthRequired, err))
	}

	err = v.store(ctx, stored, fresh, refreshToken)
	if err != nil {
		return nil, NewTokenError("refresh", integrationID, err)
	}

	v.logger.InfoContext(ctx, "Refreshed integration token",
		"integration_id", integrationID,
		"expires_at", fresh.Expiry,
	)

	return &AccessToken{
		Token:     fresh.AccessToken,
		TokenType: fresh.TokenType,
		ExpiresAt: fresh.Expiry,
	}, nil
}

// store encrypts and atomically replaces the persisted token pair.
// Providers may rotate the refresh token; keep the previous one when the
// response omits it.
func (v *Vault) store(ctx context.Context, stored *models.IntegrationToken, fresh *oauth2.Token, previousRefreshToken string) error {
	encryptedAccess, err := v.cipher.Encrypt(fresh.AccessToken)
	if err != nil {
		return err
	}

	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}

	encryptedRefresh, err := v.cipher.Encrypt(refreshToken)
	if err != nil {
		return err
	}

	stored.AccessToken = encryptedAccess
	stored.RefreshToken = encryptedRefresh
	stored.TokenType = fresh.TokenType
	stored.ExpiresAt = fresh.Expiry

	return v.persistence.TokenRepository().Save(ctx, stored)
}

func (v *Vault) markReauthRequired(ctx context.Context, integrationID string, cause error) error {
	err := v.persistence.IntegrationRepository().SetStatus(ctx, integrationID, models.IntegrationStatusError)
	if err != nil {
		v.logger.ErrorContext(ctx, "Failed to mark integration as errored",
			"integration_id", integrationID,
			"error", err,
		)
	}

	return NewTokenError("refresh", integrationID, cause)
}

func (v *Vault) decrypt(stored *models.IntegrationToken) (*AccessToken, error) {
	plaintext, err := v.cipher.Decrypt(stored.AccessToken)
	if err != nil {
		return nil, NewTokenError("decrypt", stored.IntegrationID, err)
	}

	return &AccessToken{
		Token:     plaintext,
		TokenType: stored.TokenType,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// EncryptPair prepares a token pair for storage; the OAuth callback uses
// it right after the code exchange.
func (v *Vault) EncryptPair(token *oauth2.Token) (accessToken, refreshToken string, err error) {
	accessToken, err = v.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return "", "", err
	}

	if token.RefreshToken != "" {
		refreshToken, err = v.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return "", "", err
		}
	}

	return accessToken, refreshToken, nil
}
