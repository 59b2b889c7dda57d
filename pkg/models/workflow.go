// Package models defines the core domain records for workflow execution and integrations.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, not deployed to the engine
	WorkflowStatusActive WorkflowStatus = "active" // Deployed and accepting dispatches
	WorkflowStatusPaused WorkflowStatus = "paused" // Deployed but suspended on the engine
	WorkflowStatusError  WorkflowStatus = "error"  // Last deployment attempt failed
)

// TriggerType identifies how a workflow's executions are initiated.
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
)

// StepKind distinguishes steps the engine executes from direct provider API calls.
type StepKind string

const (
	StepKindEngineNode        StepKind = "engine_node"
	StepKindIntegrationAction StepKind = "integration_action"
)

// StepSpec describes one step of a workflow. Steps of kind integration_action
// reference an Integration through IntegrationType.
type StepSpec struct {
	ID              string          `json:"id"               validate:"required"`
	Name            string          `json:"name"             validate:"required"`
	Kind            StepKind        `json:"kind"             validate:"required,oneof=engine_node integration_action"`
	IntegrationType IntegrationType `json:"integration_type,omitempty"`
	Action          string          `json:"action,omitempty"`
	Parameters      map[string]any  `json:"parameters,omitempty"`
}

// Workflow is the internal definition users edit; execution is delegated to the
// external engine once deployed. DeployedRef holds the engine-side workflow id.
type Workflow struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"               validate:"required"`
	Name          string         `json:"name"                   validate:"required,min=3"`
	Description   string         `json:"description,omitempty"`
	Status        WorkflowStatus `json:"status"                 validate:"required"`
	TriggerType   TriggerType    `json:"trigger_type"           validate:"required,oneof=schedule webhook manual"`
	TriggerConfig map[string]any `json:"trigger_config,omitempty"`
	Steps         []*StepSpec    `json:"steps"`
	Tags          []string       `json:"tags,omitempty"`
	DeployedRef   string         `json:"deployed_ref,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsDeployed reports whether the workflow can be dispatched.
func (w *Workflow) IsDeployed() bool {
	return w.Status == WorkflowStatusActive && w.DeployedRef != ""
}

// IntegrationTypes returns the distinct integration types referenced by the
// workflow's steps, in step order.
func (w *Workflow) IntegrationTypes() []IntegrationType {
	seen := make(map[IntegrationType]bool)
	types := make([]IntegrationType, 0)

	for _, step := range w.Steps {
		if step.IntegrationType == "" || seen[step.IntegrationType] {
			continue
		}

		seen[step.IntegrationType] = true
		types = append(types, step.IntegrationType)
	}

	return types
}
