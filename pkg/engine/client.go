// Package engine is the HTTP client for the external workflow engine's
// REST API. All execution happens on the engine side; this client only
// deploys definitions, starts runs and reads run state back.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/otelhelper"
)

const (
	apiKeyHeader      = "X-N8N-API-KEY"
	idempotencyHeader = "X-Idempotency-Key"

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

type Config struct {
	BaseURL string
	APIKey  string
	// CallbackBaseURL, when set, is sent along with execute requests so
	// the engine knows where to deliver status callbacks.
	CallbackBaseURL string
	// WebhookBaseURL is the engine's public webhook host, used to build
	// inbound trigger URLs for webhook workflows.
	WebhookBaseURL string
	Timeout        time.Duration
	MaxRetries     uint64
}

type Client struct {
	config     Config
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewClient(config Config, tracer trace.Tracer, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		tracer:     tracer,
		logger:     logger.With("module", "engine"),
	}
}

// ExecutionAccepted is the engine's answer to a start request.
type ExecutionAccepted struct {
	EngineID string `json:"id"`
	Status   string `json:"status"`
}

// ExecutionState is one read of a run's state. Raw keeps the full
// response body so status mapping can stay in one place downstream.
type ExecutionState struct {
	EngineID string
	Status   string
	Raw      map[string]any
}

// CreateWorkflow deploys the workflow definition and returns the
// engine-side workflow id.
func (c *Client) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.create_workflow",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
	)
	defer span.End()

	var response struct {
		ID string `json:"id"`
	}

	err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/workflows", BuildWorkflowDefinition(workflow), nil, &response)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", fmt.Errorf("failed to create engine workflow: %w", err)
	}

	return response.ID, nil
}

func (c *Client) ActivateWorkflow(ctx context.Context, engineWorkflowID string) error {
	return c.setActive(ctx, engineWorkflowID, true)
}

// DeactivateWorkflow suspends a deployed workflow on the engine without
// deleting its definition. Paused workflows are reactivated in place.
func (c *Client) DeactivateWorkflow(ctx context.Context, engineWorkflowID string) error {
	return c.setActive(ctx, engineWorkflowID, false)
}

func (c *Client) setActive(ctx context.Context, engineWorkflowID string, active bool) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.set_active",
		attribute.String(otelhelper.EngineRefKey, engineWorkflowID),
		attribute.Bool("loki.engine.active", active),
	)
	defer span.End()

	body := map[string]any{"active": active}

	err := c.doWithRetry(ctx, http.MethodPatch, "/api/v1/workflows/"+engineWorkflowID+"/activate", body, nil, nil)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to set engine workflow active=%t: %w", active, err)
	}

	return nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, engineWorkflowID string) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.delete_workflow",
		attribute.String(otelhelper.EngineRefKey, engineWorkflowID),
	)
	defer span.End()

	err := c.doWithRetry(ctx, http.MethodDelete, "/api/v1/workflows/"+engineWorkflowID, nil, nil, nil)
	if err != nil {
		// Already gone on the engine side is fine for a delete.
		if IsNotFound(err) {
			return nil
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to delete engine workflow: %w", err)
	}

	return nil
}

// Execute starts a run of a deployed workflow. The external ref rides
// along as the idempotency key, so redelivered starts do not fork a
// second engine run.
func (c *Client) Execute(ctx context.Context, deployedRef, externalRef string, payload map[string]any) (*ExecutionAccepted, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.execute",
		attribute.String(otelhelper.EngineRefKey, deployedRef),
		attribute.String(otelhelper.ExternalRefKey, externalRef),
	)
	defer span.End()

	body := map[string]any{
		"triggerData":  payload,
		"external_ref": externalRef,
	}
	if c.config.CallbackBaseURL != "" {
		body["callback_url"] = strings.TrimSuffix(c.config.CallbackBaseURL, "/") + "/webhooks/engine/" + externalRef
	}

	headers := map[string]string{idempotencyHeader: externalRef}

	var accepted ExecutionAccepted

	err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/workflows/"+deployedRef+"/execute", body, headers, &accepted)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to execute engine workflow: %w", err)
	}

	return &accepted, nil
}

func (c *Client) GetExecution(ctx context.Context, engineExecutionID string) (*ExecutionState, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.get_execution",
		attribute.String(otelhelper.EngineRefKey, engineExecutionID),
	)
	defer span.End()

	var raw map[string]any

	err := c.doWithRetry(ctx, http.MethodGet, "/api/v1/executions/"+engineExecutionID, nil, nil, &raw)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to get engine execution: %w", err)
	}

	state := &ExecutionState{Raw: raw}
	if id, ok := raw["id"].(string); ok {
		state.EngineID = id
	}

	if status, ok := raw["status"].(string); ok {
		state.Status = status
	}

	return state, nil
}

func (c *Client) CancelExecution(ctx context.Context, engineExecutionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "engine.cancel_execution",
		attribute.String(otelhelper.EngineRefKey, engineExecutionID),
	)
	defer span.End()

	err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/executions/"+engineExecutionID+"/stop", nil, nil, nil)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to cancel engine execution: %w", err)
	}

	return nil
}

// WebhookURL builds the engine-side inbound URL for a webhook-triggered
// workflow. Empty when no webhook host is configured.
func (c *Client) WebhookURL(path string) string {
	if c.config.WebhookBaseURL == "" || path == "" {
		return ""
	}

	return strings.TrimSuffix(c.config.WebhookBaseURL, "/") + "/webhook/" + strings.TrimPrefix(path, "/")
}

// doWithRetry retries transport failures and 5xx answers with bounded
// exponential backoff. Client errors are permanent: retrying an invalid
// request only repeats the rejection.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	operation := func() error {
		err := c.do(ctx, method, path, body, headers, out)
		if err != nil {
			requestErr := &RequestError{}
			if errors.As(err, &requestErr) && !requestErr.Retryable() {
				return backoff.Permanent(err)
			}

			c.logger.WarnContext(ctx, "Engine request failed, will retry",
				"method", method,
				"path", path,
				"error", err,
			)

			return err
		}

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.MaxRetries), ctx)

	return backoff.Retry(operation, policy)
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.config.APIKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &RequestError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := decodeResponse(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// decodeResponse unwraps the engine's {"data": ...} envelope when present
// and decodes plain bodies otherwise.
func decodeResponse(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}

	return json.Unmarshal(body, out)
}
