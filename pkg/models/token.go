package models

import "time"

// IntegrationToken holds a provider token pair for one integration. The
// access and refresh token values are stored encrypted; only the token vault
// writes or decodes them.
type IntegrationToken struct {
	IntegrationID string    `json:"integration_id" validate:"required"`
	AccessToken   string    `json:"access_token"   validate:"required"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the token expires before now+margin. Tokens
// without an expiry never expire.
func (t *IntegrationToken) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}

	return !t.ExpiresAt.After(now.Add(margin))
}
