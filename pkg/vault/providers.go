package vault

import (
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/loki-platform/loki/pkg/models"
)

// ProviderConfig is one OAuth client registration: the credentials plus
// the provider's authorize/token endpoints and requested scopes.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	Scopes       []string
}

// endpoints lists the fixed OAuth2 endpoints per integration type.
// Field mappings beyond endpoint configuration stay with the providers.
var endpoints = map[models.IntegrationType]oauth2.Endpoint{
	models.IntegrationTypeSlack: {
		AuthURL:  "https://slack.com/oauth/v2/authorize",
		TokenURL: "https://slack.com/api/oauth.v2.access",
	},
	models.IntegrationTypeGitHub: {
		AuthURL:  "https://github.com/login/oauth/authorize",
		TokenURL: "https://github.com/login/oauth/access_token",
	},
	models.IntegrationTypeGoogle: {
		AuthURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	},
	models.IntegrationTypeNotion: {
		AuthURL:  "https://api.notion.com/v1/oauth/authorize",
		TokenURL: "https://api.notion.com/v1/oauth/token",
	},
}

var defaultScopes = map[models.IntegrationType][]string{
	models.IntegrationTypeSlack:  {"chat:write", "channels:read"},
	models.IntegrationTypeGitHub: {"repo"},
	models.IntegrationTypeGoogle: {"https://www.googleapis.com/auth/gmail.send"},
}

// Providers holds the OAuth client registrations this deployment knows
// about, keyed by integration type.
type Providers struct {
	configs     map[models.IntegrationType]ProviderConfig
	redirectURL string
}

func NewProviders(redirectURL string) *Providers {
	return &Providers{
		configs:     make(map[models.IntegrationType]ProviderConfig),
		redirectURL: redirectURL,
	}
}

// ProvidersFromEnv registers every integration type whose
// OAUTH_<TYPE>_CLIENT_ID and OAUTH_<TYPE>_CLIENT_SECRET are set.
func ProvidersFromEnv() *Providers {
	providers := NewProviders(os.Getenv("OAUTH_REDIRECT_URL"))

	for integrationType, endpoint := range endpoints {
		prefix := "OAUTH_" + strings.ToUpper(string(integrationType))

		clientID := os.Getenv(prefix + "_CLIENT_ID")
		clientSecret := os.Getenv(prefix + "_CLIENT_SECRET")

		if clientID == "" || clientSecret == "" {
			continue
		}

		providers.Register(integrationType, ProviderConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       defaultScopes[integrationType],
		})
	}

	return providers
}

func (p *Providers) Register(integrationType models.IntegrationType, config ProviderConfig) {
	if config.Endpoint.AuthURL == "" {
		config.Endpoint = endpoints[integrationType]
	}

	p.configs[integrationType] = config
}

// OAuthConfig builds the x/oauth2 client config for one integration type.
func (p *Providers) OAuthConfig(integrationType models.IntegrationType) (*oauth2.Config, error) {
	config, ok := p.configs[integrationType]
	if !ok {
		return nil, NewTokenError("configure", string(integrationType), ErrProviderNotConfigured)
	}

	return &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     config.Endpoint,
		RedirectURL:  p.redirectURL,
		Scopes:       config.Scopes,
	}, nil
}

// Configured lists the integration types with a registered OAuth client.
func (p *Providers) Configured() []models.IntegrationType {
	types := make([]models.IntegrationType, 0, len(p.configs))
	for integrationType := range p.configs {
		types = append(types, integrationType)
	}

	return types
}
