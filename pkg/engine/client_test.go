package engine_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/models"
)

func newTestClient(serverURL string) *engine.Client {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return engine.NewClient(engine.Config{
		BaseURL:         serverURL,
		APIKey:          "test-api-key",
		CallbackBaseURL: "https://loki.example.com",
		MaxRetries:      2,
	}, noop.NewTracerProvider().Tracer("test"), logger)
}

func TestClient_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "POST", request.Method)
		assert.Equal(t, "/api/v1/workflows/eng-wf-1/execute", request.URL.Path)
		assert.Equal(t, "test-api-key", request.Header.Get("X-N8N-API-KEY"))
		assert.Equal(t, "ref-1", request.Header.Get("X-Idempotency-Key"))

		var body map[string]any

		err := json.NewDecoder(request.Body).Decode(&body)
		assert.NoError(t, err)
		assert.Equal(t, "ref-1", body["external_ref"])
		assert.Equal(t, map[string]any{"input": "value"}, body["triggerData"])
		assert.Equal(t, "https://loki.example.com/webhooks/engine/ref-1", body["callback_url"])

		writer.Header().Set("Content-Type", "application/json")

		err = json.NewEncoder(writer).Encode(map[string]any{
			"data": map[string]any{"id": "eng-exec-9", "status": "running"},
		})
		if err != nil {
			http.Error(writer, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	accepted, err := client.Execute(t.Context(), "eng-wf-1", "ref-1", map[string]any{"input": "value"})
	require.NoError(t, err)
	assert.Equal(t, "eng-exec-9", accepted.EngineID)
	assert.Equal(t, "running", accepted.Status)
}

func TestClient_Execute_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(writer, "temporarily unavailable", http.StatusServiceUnavailable)

			return
		}

		writer.Header().Set("Content-Type", "application/json")

		// Unenveloped answers decode too.
		err := json.NewEncoder(writer).Encode(map[string]any{"id": "eng-exec-1", "status": "running"})
		if err != nil {
			http.Error(writer, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	accepted, err := client.Execute(t.Context(), "eng-wf-1", "ref-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "eng-exec-1", accepted.EngineID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_Execute_ClientErrorIsFinal(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(writer, "unknown workflow", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Execute(t.Context(), "eng-wf-missing", "ref-3", nil)
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.Equal(t, int32(1), attempts.Load(), "client errors must not be retried")
}

func TestClient_WorkflowLifecycle(t *testing.T) {
	var (
		calls  []string
		active []bool
	)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls = append(calls, request.Method+" "+request.URL.Path)

		switch {
		case request.Method == "POST" && request.URL.Path == "/api/v1/workflows":
			var definition map[string]any

			err := json.NewDecoder(request.Body).Decode(&definition)
			assert.NoError(t, err)
			assert.Equal(t, "Issue triage", definition["name"])
			assert.Len(t, definition["nodes"], 3)

			writer.Header().Set("Content-Type", "application/json")

			err = json.NewEncoder(writer).Encode(map[string]any{
				"data": map[string]any{"id": "eng-wf-7"},
			})
			assert.NoError(t, err)
		case request.Method == "PATCH":
			var body map[string]any

			err := json.NewDecoder(request.Body).Decode(&body)
			assert.NoError(t, err)

			flag, ok := body["active"].(bool)
			assert.True(t, ok)

			active = append(active, flag)
			writer.WriteHeader(http.StatusOK)
		default:
			writer.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := t.Context()

	workflow := &models.Workflow{
		Name:        "Issue triage",
		TriggerType: models.TriggerTypeManual,
		Steps: []*models.StepSpec{
			{ID: "s1", Name: "Fetch", Kind: models.StepKindEngineNode, Action: "n8n-nodes-base.httpRequest"},
			{ID: "s2", Name: "Notify", Kind: models.StepKindIntegrationAction, IntegrationType: models.IntegrationTypeSlack, Action: "send_message"},
		},
	}

	engineWorkflowID, err := client.CreateWorkflow(ctx, workflow)
	require.NoError(t, err)
	assert.Equal(t, "eng-wf-7", engineWorkflowID)

	require.NoError(t, client.ActivateWorkflow(ctx, engineWorkflowID))
	require.NoError(t, client.DeactivateWorkflow(ctx, engineWorkflowID))
	require.NoError(t, client.DeleteWorkflow(ctx, engineWorkflowID))

	assert.Equal(t, []string{
		"POST /api/v1/workflows",
		"PATCH /api/v1/workflows/eng-wf-7/activate",
		"PATCH /api/v1/workflows/eng-wf-7/activate",
		"DELETE /api/v1/workflows/eng-wf-7",
	}, calls)
	assert.Equal(t, []bool{true, false}, active)
}

func TestClient_DeleteWorkflow_MissingIsNoOp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	assert.NoError(t, client.DeleteWorkflow(t.Context(), "already-gone"))
}

func TestClient_GetExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "GET", request.Method)
		assert.Equal(t, "/api/v1/executions/eng-exec-4", request.URL.Path)

		writer.Header().Set("Content-Type", "application/json")

		err := json.NewEncoder(writer).Encode(map[string]any{
			"data": map[string]any{
				"id":     "eng-exec-4",
				"status": "success",
				"data":   map[string]any{"steps": []any{}},
			},
		})
		if err != nil {
			http.Error(writer, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	state, err := client.GetExecution(t.Context(), "eng-exec-4")
	require.NoError(t, err)
	assert.Equal(t, "eng-exec-4", state.EngineID)
	assert.Equal(t, "success", state.Status)
	assert.Contains(t, state.Raw, "data", "run data stays nested for the status mappers")
}

func TestClient_CancelExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "POST", request.Method)
		assert.Equal(t, "/api/v1/executions/eng-exec-4/stop", request.URL.Path)
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	assert.NoError(t, client.CancelExecution(t.Context(), "eng-exec-4"))
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.ExecutionStatus
		known    bool
	}{
		{"running", models.ExecutionStatusRunning, true},
		{"success", models.ExecutionStatusSucceeded, true},
		{"succeeded", models.ExecutionStatusSucceeded, true},
		{"error", models.ExecutionStatusFailed, true},
		{"failed", models.ExecutionStatusFailed, true},
		{"crashed", models.ExecutionStatusFailed, true},
		{"canceled", models.ExecutionStatusCancelled, true},
		{"cancelled", models.ExecutionStatusCancelled, true},
		{"waiting", models.ExecutionStatusPending, true},
		{"new", models.ExecutionStatusPending, true},
		{"jammed", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			status, ok := engine.MapStatus(tt.raw)
			assert.Equal(t, tt.known, ok)

			if tt.known {
				assert.Equal(t, tt.expected, status)
			}
		})
	}
}

func TestBuildWorkflowDefinition(t *testing.T) {
	workflow := &models.Workflow{
		Name:        "Daily digest",
		TriggerType: models.TriggerTypeWebhook,
		TriggerConfig: map[string]any{
			"method": "PUT",
			"path":   "digest-hook",
		},
		Tags: []string{"digest"},
		Steps: []*models.StepSpec{
			{ID: "s1", Name: "Collect", Kind: models.StepKindEngineNode, Action: "n8n-nodes-base.httpRequest", Parameters: map[string]any{"url": "https://api.example.com"}},
			{ID: "s2", Name: "Notify", Kind: models.StepKindIntegrationAction, IntegrationType: models.IntegrationTypeSlack, Action: "send_message", Parameters: map[string]any{"channel": "#ops", "text": "done"}},
		},
	}

	definition := engine.BuildWorkflowDefinition(workflow)
	assert.Equal(t, true, definition["active"])
	assert.Equal(t, []string{"digest"}, definition["tags"])

	nodes, ok := definition["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 3)

	assert.Equal(t, "n8n-nodes-base.webhook", nodes[0]["type"])

	triggerParams, ok := nodes[0]["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PUT", triggerParams["httpMethod"])
	assert.Equal(t, "digest-hook", triggerParams["path"])

	assert.Equal(t, "n8n-nodes-base.httpRequest", nodes[1]["type"])
	assert.Equal(t, "step-0-s1", nodes[1]["id"])
	assert.Equal(t, map[string]any{"url": "https://api.example.com"}, nodes[1]["parameters"])

	assert.Equal(t, "n8n-nodes-base.slack", nodes[2]["type"])

	slackParams, ok := nodes[2]["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "oAuth2", slackParams["authentication"])
	assert.Equal(t, "#ops", slackParams["channel"])

	connections, ok := definition["connections"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, connections, "Webhook Trigger")
	assert.Contains(t, connections, "Collect")
	assert.NotContains(t, connections, "Notify", "the last step has no outgoing connection")
}

func TestBuildWorkflowDefinition_TriggerNodes(t *testing.T) {
	tests := []struct {
		name        string
		triggerType models.TriggerType
		config      map[string]any
		nodeType    string
	}{
		{name: "schedule", triggerType: models.TriggerTypeSchedule, config: map[string]any{"cron": "*/5 * * * *"}, nodeType: "n8n-nodes-base.cron"},
		{name: "manual", triggerType: models.TriggerTypeManual, nodeType: "n8n-nodes-base.manualTrigger"},
		{name: "webhook defaults", triggerType: models.TriggerTypeWebhook, nodeType: "n8n-nodes-base.webhook"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definition := engine.BuildWorkflowDefinition(&models.Workflow{
				Name:          "t",
				TriggerType:   tt.triggerType,
				TriggerConfig: tt.config,
			})

			nodes, ok := definition["nodes"].([]map[string]any)
			require.True(t, ok)
			require.Len(t, nodes, 1)
			assert.Equal(t, tt.nodeType, nodes[0]["type"])
		})
	}
}

func TestClient_WebhookURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client := engine.NewClient(engine.Config{
		BaseURL:        "http://engine.internal",
		WebhookBaseURL: "https://hooks.example.com/",
	}, noop.NewTracerProvider().Tracer("test"), logger)

	assert.Equal(t, "https://hooks.example.com/webhook/digest-hook", client.WebhookURL("digest-hook"))
	assert.Empty(t, client.WebhookURL(""))

	bare := engine.NewClient(engine.Config{BaseURL: "http://engine.internal"}, noop.NewTracerProvider().Tracer("test"), logger)
	assert.Empty(t, bare.WebhookURL("digest-hook"))
}
