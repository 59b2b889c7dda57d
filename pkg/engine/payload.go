package engine

import (
	"fmt"

	"github.com/loki-platform/loki/pkg/models"
)

// BuildWorkflowDefinition translates a workflow into the engine's
// node/connection graph: one entry trigger node shaped by the trigger
// type, one node per step, connected linearly in step order.
func BuildWorkflowDefinition(workflow *models.Workflow) map[string]any {
	trigger := buildTriggerNode(workflow.TriggerType, workflow.TriggerConfig)
	nodes := []map[string]any{trigger}

	connections := make(map[string]any)
	previous, _ := trigger["name"].(string)

	for i, step := range workflow.Steps {
		node := buildStepNode(step, i)
		nodes = append(nodes, node)

		connections[previous] = map[string]any{
			"main": [][]map[string]any{
				{{"node": node["name"], "type": "main", "index": 0}},
			},
		}
		previous, _ = node["name"].(string)
	}

	tags := workflow.Tags
	if tags == nil {
		tags = []string{}
	}

	return map[string]any{
		"name":        workflow.Name,
		"active":      true,
		"nodes":       nodes,
		"connections": connections,
		"settings":    map[string]any{"executionOrder": "v1"},
		"tags":        tags,
	}
}

// TriggerWebhookPath returns the engine-side webhook path a
// webhook-triggered workflow listens on. Other trigger types have none.
func TriggerWebhookPath(workflow *models.Workflow) string {
	if workflow.TriggerType != models.TriggerTypeWebhook {
		return ""
	}

	return configString(workflow.TriggerConfig, "path", "webhook")
}

func buildTriggerNode(triggerType models.TriggerType, config map[string]any) map[string]any {
	switch triggerType {
	case models.TriggerTypeWebhook:
		return map[string]any{
			"parameters": map[string]any{
				"httpMethod":   configString(config, "method", "POST"),
				"path":         configString(config, "path", "webhook"),
				"responseMode": "responseNode",
				"options":      map[string]any{},
			},
			"id":          "trigger-webhook",
			"name":        "Webhook Trigger",
			"type":        "n8n-nodes-base.webhook",
			"typeVersion": 1,
			"position":    []int{250, 300},
		}

	case models.TriggerTypeSchedule:
		interval := []any{map[string]any{
			"field":      "cronExpression",
			"expression": configString(config, "cron", "0 9 * * *"),
		}}

		return map[string]any{
			"parameters": map[string]any{
				"rule": map[string]any{"interval": interval},
			},
			"id":          "trigger-schedule",
			"name":        "Schedule Trigger",
			"type":        "n8n-nodes-base.cron",
			"typeVersion": 1,
			"position":    []int{250, 300},
		}

	default:
		return map[string]any{
			"parameters":  map[string]any{},
			"id":          "trigger-manual",
			"name":        "Manual Trigger",
			"type":        "n8n-nodes-base.manualTrigger",
			"typeVersion": 1,
			"position":    []int{250, 300},
		}
	}
}

// buildStepNode renders one step. Engine-native steps name their node
// type directly in Action and pass parameters through untouched;
// integration actions map to the engine's provider nodes.
func buildStepNode(step *models.StepSpec, index int) map[string]any {
	nodeID := fmt.Sprintf("step-%d-%s", index, step.ID)
	position := []int{450, 300 + (index+1)*180}

	if step.Kind == models.StepKindIntegrationAction {
		return buildIntegrationNode(step, nodeID, position)
	}

	parameters := step.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	return map[string]any{
		"parameters":  parameters,
		"id":          nodeID,
		"name":        step.Name,
		"type":        step.Action,
		"typeVersion": 1,
		"position":    position,
	}
}

func buildIntegrationNode(step *models.StepSpec, nodeID string, position []int) map[string]any {
	switch step.IntegrationType {
	case models.IntegrationTypeSlack:
		return map[string]any{
			"parameters": map[string]any{
				"authentication": "oAuth2",
				"resource":       "message",
				"operation":      configString(step.Parameters, "operation", "post"),
				"channel":        configString(step.Parameters, "channel", ""),
				"text":           configString(step.Parameters, "text", ""),
			},
			"id":          nodeID,
			"name":        step.Name,
			"type":        "n8n-nodes-base.slack",
			"typeVersion": 2.1,
			"position":    position,
		}

	case models.IntegrationTypeGitHub:
		return map[string]any{
			"parameters": map[string]any{
				"authentication": "oAuth2",
				"resource":       "issue",
				"operation":      configString(step.Parameters, "operation", "create"),
				"owner":          configString(step.Parameters, "owner", ""),
				"repository":     configString(step.Parameters, "repository", ""),
				"title":          configString(step.Parameters, "title", ""),
				"body":           configString(step.Parameters, "body", ""),
			},
			"id":          nodeID,
			"name":        step.Name,
			"type":        "n8n-nodes-base.github",
			"typeVersion": 1.2,
			"position":    position,
		}

	default:
		return map[string]any{
			"parameters": map[string]any{
				"url":           configString(step.Parameters, "url", ""),
				"requestMethod": configString(step.Parameters, "method", "POST"),
			},
			"id":          nodeID,
			"name":        step.Name,
			"type":        "n8n-nodes-base.httpRequest",
			"typeVersion": 4.1,
			"position":    position,
		}
	}
}

func configString(config map[string]any, key, fallback string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}

	return fallback
}
