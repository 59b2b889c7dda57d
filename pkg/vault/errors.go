package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrReauthRequired means the stored credentials can no longer be
	// refreshed and the owner has to go through the OAuth flow again.
	ErrReauthRequired = errors.New("integration requires re-authorization")

	// ErrProviderNotConfigured means no OAuth client is configured for
	// the requested integration type.
	ErrProviderNotConfigured = errors.New("oauth provider not configured")

	// ErrStateNotFound means the OAuth state token is unknown, already
	// consumed or expired.
	ErrStateNotFound = errors.New("oauth state not found or expired")
)

// TokenError wraps vault failures with the integration they belong to.
type TokenError struct {
	Op            string
	IntegrationID string
	Err           error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("vault %s failed for integration %s: %v", e.Op, e.IntegrationID, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

func (e *TokenError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewTokenError(op, integrationID string, err error) *TokenError {
	return &TokenError{Op: op, IntegrationID: integrationID, Err: err}
}

func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrReauthRequired)
}

func IsProviderNotConfigured(err error) bool {
	return errors.Is(err, ErrProviderNotConfigured)
}

func IsStateNotFound(err error) bool {
	return errors.Is(err, ErrStateNotFound)
}
