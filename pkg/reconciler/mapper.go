package reconciler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/models"
)

// StatusEvent is the shared shape every source's payload maps to.
// An empty Status marks an audit-only event: provider activity worth
// recording against the execution without moving its state machine.
type StatusEvent struct {
	Status   models.ExecutionStatus
	Detail   string
	EngineID string
	Steps    []*models.StepResult
}

// Mapper translates one source's payload into a StatusEvent. Payloads
// are schema-validated before any field is read.
type Mapper interface {
	Source() string
	Map(payload map[string]any) (*StatusEvent, error)
}

type MapperRegistry struct {
	mappers map[string]Mapper
}

func NewMapperRegistry() *MapperRegistry {
	registry := &MapperRegistry{mappers: make(map[string]Mapper)}
	registry.Register(&engineMapper{})
	registry.Register(&pollerMapper{})
	registry.Register(&slackMapper{})
	registry.Register(&githubMapper{})

	return registry
}

func (r *MapperRegistry) Register(mapper Mapper) {
	r.mappers[mapper.Source()] = mapper
}

func (r *MapperRegistry) Lookup(source string) (Mapper, error) {
	mapper, ok := r.mappers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	return mapper, nil
}

func (r *MapperRegistry) Sources() []string {
	sources := make([]string, 0, len(r.mappers))
	for source := range r.mappers {
		sources = append(sources, source)
	}

	return sources
}

func validatePayload(payload map[string]any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var descriptions []string
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(descriptions, "; "))
	}

	return nil
}

var stepItemSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "status"},
	"properties": map[string]any{
		"id":     map[string]any{"type": "string"},
		"status": map[string]any{"type": "string"},
		"error":  map[string]any{"type": "string"},
	},
}

// parseSteps reads engine step reports, keeping arrival order. Items
// without an id or status are dropped rather than failing the event.
func parseSteps(value any) []*models.StepResult {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	var results []*models.StepResult

	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		id, ok := item["id"].(string)
		if !ok || id == "" {
			continue
		}

		status, ok := item["status"].(string)
		if !ok || status == "" {
			continue
		}

		result := &models.StepResult{StepID: id, Status: status}

		if output, exists := item["output"]; exists && output != nil {
			if text, ok := output.(string); ok {
				result.Output = text
			} else if encoded, err := json.Marshal(output); err == nil {
				result.Output = string(encoded)
			}
		}

		if message, ok := item["error"].(string); ok {
			result.Error = message
		}

		results = append(results, result)
	}

	return results
}

func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}

// engineMapper handles push callbacks from the engine itself.
type engineMapper struct{}

var engineSchema = map[string]any{
	"type":     "object",
	"required": []any{"status"},
	"properties": map[string]any{
		"id":     map[string]any{"type": "string"},
		"status": map[string]any{"type": "string"},
		"detail": map[string]any{"type": "string"},
		"error":  map[string]any{"type": "string"},
		"steps":  map[string]any{"type": "array", "items": stepItemSchema},
	},
}

func (m *engineMapper) Source() string {
	return "engine"
}

func (m *engineMapper) Map(payload map[string]any) (*StatusEvent, error) {
	if err := validatePayload(payload, engineSchema); err != nil {
		return nil, err
	}

	raw, _ := payload["status"].(string)

	status, ok := engine.MapStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown engine status %q", ErrInvalidPayload, raw)
	}

	return &StatusEvent{
		Status:   status,
		Detail:   stringField(payload, "detail", "error"),
		EngineID: stringField(payload, "id"),
		Steps:    parseSteps(payload["steps"]),
	}, nil
}

// pollerMapper handles execution reads the status sweep pulls from the
// engine; same status vocabulary, state nested under data.
type pollerMapper struct{}

var pollerSchema = map[string]any{
	"type":     "object",
	"required": []any{"status"},
	"properties": map[string]any{
		"id":     map[string]any{"type": "string"},
		"status": map[string]any{"type": "string"},
		"data":   map[string]any{"type": "object"},
	},
}

func (m *pollerMapper) Source() string {
	return "poller"
}

func (m *pollerMapper) Map(payload map[string]any) (*StatusEvent, error) {
	if err := validatePayload(payload, pollerSchema); err != nil {
		return nil, err
	}

	raw, _ := payload["status"].(string)

	status, ok := engine.MapStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown engine status %q", ErrInvalidPayload, raw)
	}

	event := &StatusEvent{
		Status:   status,
		Detail:   stringField(payload, "detail", "error"),
		EngineID: stringField(payload, "id"),
	}

	if data, ok := payload["data"].(map[string]any); ok {
		event.Steps = parseSteps(data["steps"])

		if event.Detail == "" {
			event.Detail = stringField(data, "error")
		}
	}

	return event, nil
}

// slackMapper records Slack event callbacks against the execution that
// caused them. Audit only: no status transition.
type slackMapper struct{}

var slackSchema = map[string]any{
	"type":     "object",
	"required": []any{"type"},
	"properties": map[string]any{
		"type":     map[string]any{"type": "string"},
		"event_id": map[string]any{"type": "string"},
	},
}

func (m *slackMapper) Source() string {
	return "slack"
}

func (m *slackMapper) Map(payload map[string]any) (*StatusEvent, error) {
	if err := validatePayload(payload, slackSchema); err != nil {
		return nil, err
	}

	eventType, _ := payload["type"].(string)

	stepID := "slack:" + eventType
	if eventID := stringField(payload, "event_id"); eventID != "" {
		stepID += ":" + eventID
	}

	return &StatusEvent{Steps: []*models.StepResult{auditStep(stepID, payload)}}, nil
}

// githubMapper records GitHub webhook deliveries the same way.
type githubMapper struct{}

var githubSchema = map[string]any{
	"type":     "object",
	"required": []any{"action"},
	"properties": map[string]any{
		"action":   map[string]any{"type": "string"},
		"delivery": map[string]any{"type": "string"},
	},
}

func (m *githubMapper) Source() string {
	return "github"
}

func (m *githubMapper) Map(payload map[string]any) (*StatusEvent, error) {
	if err := validatePayload(payload, githubSchema); err != nil {
		return nil, err
	}

	action, _ := payload["action"].(string)

	stepID := "github:" + action
	if delivery := stringField(payload, "delivery"); delivery != "" {
		stepID += ":" + delivery
	}

	return &StatusEvent{Steps: []*models.StepResult{auditStep(stepID, payload)}}, nil
}

func auditStep(stepID string, payload map[string]any) *models.StepResult {
	result := &models.StepResult{StepID: stepID, Status: "received"}

	if encoded, err := json.Marshal(payload); err == nil {
		result.Output = string(encoded)
	}

	return result
}
