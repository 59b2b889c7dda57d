// Package web provides HTTP request and response types for the REST API.
package web

import "github.com/loki-platform/loki/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name          string             `json:"name"                     validate:"required,min=3"`
	Description   string             `json:"description,omitempty"`
	OwnerID       string             `json:"owner_id"                 validate:"required"`
	TriggerType   models.TriggerType `json:"trigger_type"             validate:"required,oneof=schedule webhook manual"`
	TriggerConfig map[string]any     `json:"trigger_config,omitempty"`
	Steps         []*models.StepSpec `json:"steps"                    validate:"omitempty,dive"`
	Tags          []string           `json:"tags,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating an existing
// workflow. All fields are optional to support partial updates; lifecycle
// fields (owner, status, deployed ref) cannot be changed through it.
type UpdateWorkflowRequest struct {
	Name          *string             `json:"name,omitempty"           validate:"omitempty,min=3"`
	Description   *string             `json:"description,omitempty"`
	TriggerType   *models.TriggerType `json:"trigger_type,omitempty"   validate:"omitempty,oneof=schedule webhook manual"`
	TriggerConfig map[string]any      `json:"trigger_config,omitempty"`
	Steps         []*models.StepSpec  `json:"steps,omitempty"          validate:"omitempty,dive"`
	Tags          []string            `json:"tags,omitempty"`
}

// RunWorkflowRequest carries the optional trigger payload for a manual run.
type RunWorkflowRequest struct {
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
}

// DeployWorkflowResponse pairs the deployed workflow with the engine-side
// webhook URL, when the trigger type has one.
type DeployWorkflowResponse struct {
	Workflow   *models.Workflow `json:"workflow"`
	WebhookURL string           `json:"webhook_url,omitempty"`
}

// ConnectIntegrationRequest starts an OAuth connection for an owner.
type ConnectIntegrationRequest struct {
	OwnerID         string                 `json:"owner_id"         validate:"required"`
	IntegrationType models.IntegrationType `json:"integration_type" validate:"required"`
}

// ConnectIntegrationResponse carries the provider authorization URL the
// owner's browser is sent to, and the state tying the callback back.
type ConnectIntegrationResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// ExecuteActionRequest represents the request body for a direct integration
// action call.
type ExecuteActionRequest struct {
	OwnerID    string         `json:"owner_id"             validate:"required"`
	Action     string         `json:"action"               validate:"required"`
	Parameters map[string]any `json:"parameters,omitempty"`
}
