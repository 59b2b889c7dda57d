package models

import "time"

// IntegrationType identifies the third-party provider an integration connects to.
type IntegrationType string

const (
	IntegrationTypeSlack      IntegrationType = "slack"
	IntegrationTypeGoogle     IntegrationType = "google"
	IntegrationTypeGitHub     IntegrationType = "github"
	IntegrationTypeNotion     IntegrationType = "notion"
	IntegrationTypeFigma      IntegrationType = "figma"
	IntegrationTypeJira       IntegrationType = "jira"
	IntegrationTypeConfluence IntegrationType = "confluence"
	IntegrationTypeHubspot    IntegrationType = "hubspot"
	IntegrationTypeSalesforce IntegrationType = "salesforce"
	IntegrationTypeAWS        IntegrationType = "aws"
)

// IntegrationStatus represents the connection state of an integration.
type IntegrationStatus string

const (
	IntegrationStatusConnected    IntegrationStatus = "connected"
	IntegrationStatusDisconnected IntegrationStatus = "disconnected"
	IntegrationStatusError        IntegrationStatus = "error" // Token refresh failed, reauthorization required
)

// Integration is a user's connection to a third-party provider. Credentials
// live in the associated IntegrationToken, managed by the token vault.
type Integration struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"   validate:"required"`
	Type      IntegrationType   `json:"type"       validate:"required"`
	Status    IntegrationStatus `json:"status"     validate:"required"`
	Name      string            `json:"name,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
