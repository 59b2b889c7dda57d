package queue

import "github.com/loki-platform/loki/pkg/models"

// TaskKind routes a dequeued task to its handler.
type TaskKind string

const (
	// TaskKindProcessWebhook runs the reconciler over a stored webhook
	// event. Enqueued by the ingest handler so the HTTP response never
	// waits on persistence races or provider payload quirks.
	TaskKindProcessWebhook TaskKind = "webhook.process"

	// TaskKindDispatchWorkflow starts a workflow run off the request
	// path, used by provider-event triggers and scheduled runs.
	TaskKindDispatchWorkflow TaskKind = "workflow.dispatch"

	// TaskKindIntegrationAction executes one direct provider API call
	// with vault credentials.
	TaskKindIntegrationAction TaskKind = "integration.action"
)

const (
	Topic = "loki.tasks"

	TaskKeyMetadataKey  = "task_key"
	TaskKindMetadataKey = "task_kind"
)

// Task is anything the worker can pick up.
type Task interface {
	GetKind() TaskKind
}

// ProcessWebhookTask references a stored webhook event by id; the
// worker re-reads the row so the queue payload stays small.
type ProcessWebhookTask struct {
	EventID     string `json:"event_id"`
	Source      string `json:"source"`
	ExternalRef string `json:"external_ref"`
}

func (t *ProcessWebhookTask) GetKind() TaskKind {
	return TaskKindProcessWebhook
}

type DispatchWorkflowTask struct {
	WorkflowID     string         `json:"workflow_id"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
}

func (t *DispatchWorkflowTask) GetKind() TaskKind {
	return TaskKindDispatchWorkflow
}

type IntegrationActionTask struct {
	OwnerID         string                 `json:"owner_id"`
	IntegrationType models.IntegrationType `json:"integration_type"`
	Action          string                 `json:"action"`
	Parameters      map[string]any         `json:"parameters,omitempty"`
	// ExternalRef, when set, names the execution the action's outcome is
	// recorded against.
	ExternalRef string `json:"external_ref,omitempty"`
}

func (t *IntegrationActionTask) GetKind() TaskKind {
	return TaskKindIntegrationAction
}
