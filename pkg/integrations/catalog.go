// Package integrations executes API calls against connected providers.
// The catalog backs the direct action endpoint and integration.action
// queue tasks; Identify resolves the remote account a fresh OAuth
// connection belongs to.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/otelhelper"
	"github.com/loki-platform/loki/pkg/vault"
)

const requestTimeout = 30 * time.Second

// RemoteAccount is the provider-side identity behind an access token.
type RemoteAccount struct {
	ID        string
	Name      string
	Workspace string
}

// Provider executes actions against one integration type's API.
type Provider interface {
	Execute(ctx context.Context, token, action string, params map[string]any) (map[string]any, error)
	Identify(ctx context.Context, token string) (*RemoteAccount, error)
	Actions() []string
}

// Catalog routes actions to the provider registered for each
// integration type.
type Catalog struct {
	providers map[models.IntegrationType]Provider
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewCatalog(tracer trace.Tracer, logger *slog.Logger) *Catalog {
	return &Catalog{
		providers: map[models.IntegrationType]Provider{
			models.IntegrationTypeSlack:  NewSlackProvider(nil, ""),
			models.IntegrationTypeGoogle: NewGoogleProvider(nil, ""),
			models.IntegrationTypeGitHub: NewGitHubProvider(nil, ""),
		},
		tracer: tracer,
		logger: logger.With("module", "integrations"),
	}
}

func (c *Catalog) Register(integrationType models.IntegrationType, provider Provider) {
	c.providers[integrationType] = provider
}

// Supported lists the integration types with a registered provider.
func (c *Catalog) Supported() []models.IntegrationType {
	types := make([]models.IntegrationType, 0, len(c.providers))
	for integrationType := range c.providers {
		types = append(types, integrationType)
	}

	slices.Sort(types)

	return types
}

// Actions lists the actions the provider for an integration type
// implements. Unsupported types yield an empty list.
func (c *Catalog) Actions(integrationType models.IntegrationType) []string {
	provider, ok := c.providers[integrationType]
	if !ok {
		return nil
	}

	actions := provider.Actions()
	slices.Sort(actions)

	return actions
}

// Execute runs one provider action with the given access token.
func (c *Catalog) Execute(
	ctx context.Context,
	integrationType models.IntegrationType,
	token string,
	action string,
	params map[string]any,
) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "integration.action",
		attribute.String(otelhelper.IntegrationTypeKey, string(integrationType)),
		attribute.String("loki.integration.action", action),
	)
	defer span.End()

	provider, ok := c.providers[integrationType]
	if !ok {
		err := NewActionError("execute", integrationType, action, ErrProviderNotSupported)
		otelhelper.SetError(span, err)

		return nil, err
	}

	result, err := provider.Execute(ctx, token, action, params)
	if err != nil {
		otelhelper.SetError(span, err)
		c.logger.WarnContext(ctx, "Integration action failed",
			"integration_type", integrationType,
			"action", action,
			"error", err,
		)

		return nil, NewActionError("execute", integrationType, action, err)
	}

	return result, nil
}

// Identify asks the provider who owns the access token. Types without
// a provider identify as nobody, not as an error.
func (c *Catalog) Identify(
	ctx context.Context,
	integrationType models.IntegrationType,
	token string,
) (*RemoteAccount, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "integration.identify",
		attribute.String(otelhelper.IntegrationTypeKey, string(integrationType)),
	)
	defer span.End()

	provider, ok := c.providers[integrationType]
	if !ok {
		return nil, nil
	}

	account, err := provider.Identify(ctx, token)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, NewActionError("identify", integrationType, "", err)
	}

	return account, nil
}

func orDefaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}

	return &http.Client{Timeout: requestTimeout}
}

// doJSON performs one authenticated provider call and decodes the JSON
// answer. Providers answering with a bare array are wrapped under
// "items" so results stay object shaped.
func doJSON(ctx context.Context, client *http.Client, token, method, rawURL string, body any) (map[string]any, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("provider responded %d: %w", resp.StatusCode, vault.ErrReauthRequired)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded any

	err = json.Unmarshal(payload, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	if object, ok := decoded.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{"items": decoded}, nil
}

func requiredString(params map[string]any, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%q: %w", key, ErrMissingParameter)
	}

	return value, nil
}

func optionalString(params map[string]any, key string) string {
	value, _ := params[key].(string)

	return value
}
