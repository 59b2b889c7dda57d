package cmd

import (
	"encoding/base64"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/vault"
)

// NewTokenVault assembles the token vault from its parts. The
// encryption key is base64-encoded; a raw 32-byte key is accepted
// as-is.
func NewTokenVault(
	persist persistence.Persistence,
	providers *vault.Providers,
	encryptionKey string,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*vault.Vault, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(encryptionKey)
	if err != nil {
		keyBytes = []byte(encryptionKey)
	}

	tokenCipher, err := vault.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	refresher := vault.NewOAuthRefresher(providers)

	return vault.NewVault(persist, tokenCipher, refresher, 0, tracer, logger), nil
}
