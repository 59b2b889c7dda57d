package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/loki-platform/loki/pkg/dispatcher"
	"github.com/loki-platform/loki/pkg/engine"
	"github.com/loki-platform/loki/pkg/integrations"
	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
	"github.com/loki-platform/loki/pkg/persistence/file"
	"github.com/loki-platform/loki/pkg/ratelimit"
	"github.com/loki-platform/loki/pkg/services"
	"github.com/loki-platform/loki/pkg/vault"
	"github.com/loki-platform/loki/pkg/web"
)

type stubDeployer struct {
	createErr     error
	activateErr   error
	deactivateErr error
	created       int
	deleted       []string
}

func (s *stubDeployer) CreateWorkflow(_ context.Context, _ *models.Workflow) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}

	s.created++

	return fmt.Sprintf("eng-wf-%d", s.created), nil
}

func (s *stubDeployer) ActivateWorkflow(_ context.Context, _ string) error {
	return s.activateErr
}

func (s *stubDeployer) DeactivateWorkflow(_ context.Context, _ string) error {
	return s.deactivateErr
}

func (s *stubDeployer) DeleteWorkflow(_ context.Context, engineWorkflowID string) error {
	s.deleted = append(s.deleted, engineWorkflowID)

	return nil
}

func (s *stubDeployer) WebhookURL(path string) string {
	return "https://engine.test/webhook/" + path
}

type stubRunner struct {
	dispatchErr error
	cancelErr   error
	payloads    []map[string]any
}

func (s *stubRunner) Dispatch(_ context.Context, workflowID string, triggerPayload map[string]any) (*dispatcher.Handle, error) {
	s.payloads = append(s.payloads, triggerPayload)

	if s.dispatchErr != nil {
		return nil, s.dispatchErr
	}

	return &dispatcher.Handle{
		ExecutionID: "exec-1",
		WorkflowID:  workflowID,
		ExternalRef: "ref-1",
		Status:      models.ExecutionStatusPending,
	}, nil
}

func (s *stubRunner) Cancel(_ context.Context, executionID string) (*dispatcher.Handle, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}

	return &dispatcher.Handle{
		ExecutionID: executionID,
		Status:      models.ExecutionStatusCancelled,
	}, nil
}

type stubStateStore struct {
	states map[string]*vault.StateData
	seq    int
}

func (s *stubStateStore) Create(_ context.Context, ownerID string, integrationType models.IntegrationType) (string, error) {
	s.seq++
	state := fmt.Sprintf("state-%d", s.seq)
	s.states[state] = &vault.StateData{
		OwnerID:         ownerID,
		IntegrationType: integrationType,
		CreatedAt:       time.Now().UTC(),
	}

	return state, nil
}

func (s *stubStateStore) Consume(_ context.Context, state string) (*vault.StateData, error) {
	data, ok := s.states[state]
	if !ok {
		return nil, vault.ErrStateNotFound
	}

	delete(s.states, state)

	return data, nil
}

type stubTokenVault struct{}

func (s *stubTokenVault) GetValidToken(_ context.Context, _ string) (*vault.AccessToken, error) {
	return &vault.AccessToken{Token: "valid-token", TokenType: "Bearer"}, nil
}

func (s *stubTokenVault) EncryptPair(token *oauth2.Token) (string, string, error) {
	return "enc:" + token.AccessToken, "enc:" + token.RefreshToken, nil
}

type stubCatalog struct {
	result     map[string]any
	executeErr error
	actions    []string
}

func (s *stubCatalog) Execute(_ context.Context, _ models.IntegrationType, _, action string, _ map[string]any) (map[string]any, error) {
	s.actions = append(s.actions, action)

	if s.executeErr != nil {
		return nil, s.executeErr
	}

	return s.result, nil
}

func (s *stubCatalog) Identify(_ context.Context, _ models.IntegrationType, _ string) (*integrations.RemoteAccount, error) {
	return &integrations.RemoteAccount{ID: "U123", Name: "grace", Workspace: "Acme"}, nil
}

type stubRateChecker struct {
	allowed bool
	err     error
}

func (s *stubRateChecker) CheckAndIncrement(_ context.Context, _ ratelimit.Key) (bool, error) {
	return s.allowed, s.err
}

type apiTestEnv struct {
	app        *fiber.App
	persist    persistence.Persistence
	workflows  *services.Workflow
	executions *services.Execution
	deployer   *stubDeployer
	runner     *stubRunner
	catalog    *stubCatalog
	limiter    *stubRateChecker
	states     *stubStateStore
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validate := validator.New(validator.WithRequiredStructEnabled())

	deployer := &stubDeployer{}
	runner := &stubRunner{}
	catalog := &stubCatalog{result: map[string]any{"ok": true}}
	limiter := &stubRateChecker{allowed: true}
	states := &stubStateStore{states: map[string]*vault.StateData{}}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "slack-access",
			"refresh_token": "slack-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(tokenSrv.Close)

	providers := vault.NewProviders("https://loki.example.com/integrations/callback")
	providers.Register(models.IntegrationTypeSlack, vault.ProviderConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://slack.test/authorize",
			TokenURL: tokenSrv.URL + "/oauth/token",
		},
	})

	workflowService := services.NewWorkflow(persist, deployer, logger)
	executionService := services.NewExecution(persist, runner, logger)
	integrationService := services.NewIntegration(persist, providers, states, &stubTokenVault{}, catalog, limiter, logger)

	handlers := web.NewAPIHandlers(workflowService, executionService, integrationService, validate)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/deploy", handlers.DeployWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/resume", handlers.ResumeWorkflow)
	w.Post("/:id/run", handlers.RunWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	i := app.Group("/integrations")
	i.Get("/", handlers.GetIntegrations)
	i.Post("/connect", handlers.ConnectIntegration)
	i.Get("/callback", handlers.IntegrationCallback)
	i.Delete("/:id", handlers.DisconnectIntegration)
	i.Post("/:type/actions", handlers.ExecuteIntegrationAction)

	app.Get("/health", handlers.HealthCheck)

	return &apiTestEnv{
		app:        app,
		persist:    persist,
		workflows:  workflowService,
		executions: executionService,
		deployer:   deployer,
		runner:     runner,
		catalog:    catalog,
		limiter:    limiter,
		states:     states,
	}
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

type problemBody struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func createTestWorkflow(t *testing.T, env *apiTestEnv, name string) *models.Workflow {
	t.Helper()

	created, err := env.workflows.Create(t.Context(), &models.Workflow{
		Name:        name,
		OwnerID:     "user-1",
		TriggerType: models.TriggerTypeManual,
		Steps: []*models.StepSpec{
			{ID: "step-1", Name: "Notify", Kind: models.StepKindEngineNode},
		},
	})
	require.NoError(t, err)

	return created
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				Name:        "Deploy Notifier",
				Description: "Notifies the channel on deploys",
				OwnerID:     "user-1",
				TriggerType: models.TriggerTypeManual,
				Steps: []*models.StepSpec{
					{ID: "step-1", Name: "Notify", Kind: models.StepKindEngineNode},
				},
				Tags: []string{"ops"},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid JSON body",
			requestBody:    "not a json object",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing name",
			requestBody: web.CreateWorkflowRequest{
				OwnerID:     "user-1",
				TriggerType: models.TriggerTypeManual,
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "name too short",
			requestBody: web.CreateWorkflowRequest{
				Name:        "ab",
				OwnerID:     "user-1",
				TriggerType: models.TriggerTypeManual,
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "missing owner",
			requestBody: web.CreateWorkflowRequest{
				Name:        "Deploy Notifier",
				TriggerType: models.TriggerTypeManual,
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown trigger type",
			requestBody: web.CreateWorkflowRequest{
				Name:        "Deploy Notifier",
				OwnerID:     "user-1",
				TriggerType: models.TriggerType("carrier-pigeon"),
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "step without kind",
			requestBody: web.CreateWorkflowRequest{
				Name:        "Deploy Notifier",
				OwnerID:     "user-1",
				TriggerType: models.TriggerTypeManual,
				Steps: []*models.StepSpec{
					{ID: "step-1", Name: "Notify"},
				},
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newAPITestEnv(t)

			resp := doRequest(t, env.app, http.MethodPost, "/workflows/", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusCreated {
				return
			}

			var workflow models.Workflow

			decodeJSON(t, resp, &workflow)
			assert.NotEmpty(t, workflow.ID)
			assert.Equal(t, "Deploy Notifier", workflow.Name)
			assert.Equal(t, "user-1", workflow.OwnerID)
			assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
			assert.Equal(t, []string{"ops"}, workflow.Tags)
		})
	}
}

func TestAPIHandlers_GetWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Fetch Me")

	resp := doRequest(t, env.app, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)
	assert.Equal(t, created.ID, workflow.ID)
	assert.Equal(t, "Fetch Me", workflow.Name)
}

func TestAPIHandlers_GetWorkflow_NotFound(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/workflows/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "workflow_not_found", problem.Type)
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	createTestWorkflow(t, env, "First Workflow")
	createTestWorkflow(t, env, "Second Workflow")

	_, err := env.workflows.Create(t.Context(), &models.Workflow{
		Name:        "Someone Elses",
		OwnerID:     "user-2",
		TriggerType: models.TriggerTypeManual,
	})
	require.NoError(t, err)

	resp := doRequest(t, env.app, http.MethodGet, "/workflows/?owner_id=user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Workflows  []*models.Workflow `json:"workflows"`
		TotalCount int64              `json:"total_count"`
		Pagination struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		} `json:"pagination"`
	}

	decodeJSON(t, resp, &result)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Workflows, 2)
	assert.Equal(t, 20, result.Pagination.Limit)
}

func TestAPIHandlers_GetWorkflows_RejectsBadQuery(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/workflows/?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, env.app, http.MethodGet, "/workflows/?sort_by=secrets", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPIHandlers_UpdateWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Original Name")

	newName := "Renamed Workflow"
	resp := doRequest(t, env.app, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
		Name: &newName,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)
	assert.Equal(t, newName, workflow.Name)
	assert.Equal(t, created.OwnerID, workflow.OwnerID)
	assert.Len(t, workflow.Steps, 1)
}

func TestAPIHandlers_UpdateWorkflow_NotFound(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	name := "Renamed Workflow"
	resp := doRequest(t, env.app, http.MethodPatch, "/workflows/missing", web.UpdateWorkflowRequest{
		Name: &name,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Short Lived")

	resp := doRequest(t, env.app, http.MethodDelete, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, env.app, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_DeployWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	created, err := env.workflows.Create(t.Context(), &models.Workflow{
		Name:          "Hook Listener",
		OwnerID:       "user-1",
		TriggerType:   models.TriggerTypeWebhook,
		TriggerConfig: map[string]any{"path": "wh-1"},
		Steps: []*models.StepSpec{
			{ID: "step-1", Name: "Notify", Kind: models.StepKindEngineNode},
		},
	})
	require.NoError(t, err)

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.DeployWorkflowResponse

	decodeJSON(t, resp, &result)
	assert.Equal(t, models.WorkflowStatusActive, result.Workflow.Status)
	assert.Equal(t, "eng-wf-1", result.Workflow.DeployedRef)
	assert.Equal(t, "https://engine.test/webhook/wh-1", result.WebhookURL)
}

func TestAPIHandlers_DeployWorkflow_AlreadyDeployed(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Deploy Once")

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "conflict", problem.Type)
}

func TestAPIHandlers_DeployWorkflow_EngineFailure(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Doomed Deploy")

	env.deployer.createErr = &engine.RequestError{StatusCode: http.StatusInternalServerError, Body: "boom"}

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "engine_error", problem.Type)

	stored, err := env.workflows.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusError, stored.Status)
}

func TestAPIHandlers_PauseAndResumeWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Pause Me")

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/deploy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workflow models.Workflow

	decodeJSON(t, resp, &workflow)
	assert.Equal(t, models.WorkflowStatusPaused, workflow.Status)

	resp = doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, resp, &workflow)
	assert.Equal(t, models.WorkflowStatusActive, workflow.Status)
}

func TestAPIHandlers_PauseWorkflow_NotDeployed(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Still Draft")

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "conflict", problem.Type)
}

func TestAPIHandlers_RunWorkflow(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Run Me")

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/run", web.RunWorkflowRequest{
		TriggerPayload: map[string]any{"channel": "#ops"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var handle dispatcher.Handle

	decodeJSON(t, resp, &handle)
	assert.Equal(t, "exec-1", handle.ExecutionID)
	assert.Equal(t, created.ID, handle.WorkflowID)
	assert.Equal(t, models.ExecutionStatusPending, handle.Status)

	require.Len(t, env.runner.payloads, 1)
	assert.Equal(t, "#ops", env.runner.payloads[0]["channel"])
}

func TestAPIHandlers_RunWorkflow_EmptyBody(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Run Bare")

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, env.runner.payloads, 1)
	assert.Nil(t, env.runner.payloads[0])
}

func TestAPIHandlers_RunWorkflow_NotDeployed(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Undeployed")

	env.runner.dispatchErr = dispatcher.ErrNotDeployed

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "workflow_not_deployed", problem.Type)
}

func TestAPIHandlers_RunWorkflow_RateLimited(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Throttled")

	env.runner.dispatchErr = dispatcher.ErrRateLimitExceeded

	resp := doRequest(t, env.app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "rate_limit_exceeded", problem.Type)
}

func TestAPIHandlers_GetWorkflowExecutions(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Has Runs")

	for i := range 3 {
		err := env.persist.ExecutionRepository().Create(t.Context(), &models.WorkflowExecution{
			WorkflowID:  created.ID,
			Status:      models.ExecutionStatusPending,
			ExternalRef: fmt.Sprintf("ref-list-%d", i),
		})
		require.NoError(t, err)
	}

	resp := doRequest(t, env.app, http.MethodGet, "/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Executions []*models.WorkflowExecution `json:"executions"`
		Count      int                         `json:"count"`
	}

	decodeJSON(t, resp, &result)
	assert.Equal(t, 3, result.Count)
	assert.Len(t, result.Executions, 3)
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	created := createTestWorkflow(t, env, "Has Run")

	exec := &models.WorkflowExecution{
		WorkflowID:  created.ID,
		Status:      models.ExecutionStatusRunning,
		ExternalRef: "ref-get-1",
	}
	require.NoError(t, env.persist.ExecutionRepository().Create(t.Context(), exec))

	resp := doRequest(t, env.app, http.MethodGet, "/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.WorkflowExecution

	decodeJSON(t, resp, &stored)
	assert.Equal(t, exec.ID, stored.ID)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
}

func TestAPIHandlers_GetExecution_NotFound(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/executions/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "execution_not_found", problem.Type)
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodPost, "/executions/exec-9/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var handle dispatcher.Handle

	decodeJSON(t, resp, &handle)
	assert.Equal(t, "exec-9", handle.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCancelled, handle.Status)
}

func TestAPIHandlers_CancelExecution_AlreadyTerminal(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	env.runner.cancelErr = dispatcher.ErrNotCancellable

	resp := doRequest(t, env.app, http.MethodPost, "/executions/exec-9/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "not_cancellable", problem.Type)
}

func TestAPIHandlers_ConnectIntegration(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/connect", web.ConnectIntegrationRequest{
		OwnerID:         "user-1",
		IntegrationType: models.IntegrationTypeSlack,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.ConnectIntegrationResponse

	decodeJSON(t, resp, &result)
	assert.Contains(t, result.AuthorizationURL, "client_id=client-1")
	assert.Contains(t, result.AuthorizationURL, "state="+result.State)
	assert.NotEmpty(t, result.State)
}

func TestAPIHandlers_ConnectIntegration_Unconfigured(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/connect", web.ConnectIntegrationRequest{
		OwnerID:         "user-1",
		IntegrationType: models.IntegrationTypeFigma,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "provider_not_configured", problem.Type)
}

func TestAPIHandlers_IntegrationCallback(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/connect", web.ConnectIntegrationRequest{
		OwnerID:         "user-1",
		IntegrationType: models.IntegrationTypeSlack,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var connect web.ConnectIntegrationResponse

	decodeJSON(t, resp, &connect)

	resp = doRequest(t, env.app, http.MethodGet, "/integrations/callback?state="+connect.State+"&code=auth-code", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var integration models.Integration

	decodeJSON(t, resp, &integration)
	assert.Equal(t, models.IntegrationStatusConnected, integration.Status)
	assert.Equal(t, "Slack - grace", integration.Name)
	assert.Equal(t, "user-1", integration.OwnerID)
}

func TestAPIHandlers_IntegrationCallback_BadState(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/integrations/callback?state=forged&code=auth-code", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "invalid_state", problem.Type)
}

func TestAPIHandlers_IntegrationCallback_MissingParams(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/integrations/callback?code=auth-code", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetIntegrations(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	for _, integrationType := range []models.IntegrationType{models.IntegrationTypeSlack, models.IntegrationTypeGitHub} {
		err := env.persist.IntegrationRepository().Save(t.Context(), &models.Integration{
			OwnerID: "user-1",
			Type:    integrationType,
			Status:  models.IntegrationStatusConnected,
			Name:    "Connected " + string(integrationType),
		})
		require.NoError(t, err)
	}

	resp := doRequest(t, env.app, http.MethodGet, "/integrations/?owner_id=user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Integrations []*models.Integration `json:"integrations"`
		Count        int                   `json:"count"`
	}

	decodeJSON(t, resp, &result)
	assert.Equal(t, 2, result.Count)
}

func TestAPIHandlers_GetIntegrations_RequiresOwner(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/integrations/", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_DisconnectIntegration(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	integration := &models.Integration{
		OwnerID: "user-1",
		Type:    models.IntegrationTypeSlack,
		Status:  models.IntegrationStatusConnected,
		Name:    "Slack - grace",
	}
	require.NoError(t, env.persist.IntegrationRepository().Save(t.Context(), integration))

	resp := doRequest(t, env.app, http.MethodDelete, "/integrations/"+integration.ID+"?owner_id=user-1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := env.persist.IntegrationRepository().GetByID(t.Context(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationStatusDisconnected, stored.Status)
}

func TestAPIHandlers_DisconnectIntegration_WrongOwner(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	integration := &models.Integration{
		OwnerID: "user-1",
		Type:    models.IntegrationTypeSlack,
		Status:  models.IntegrationStatusConnected,
		Name:    "Slack - grace",
	}
	require.NoError(t, env.persist.IntegrationRepository().Save(t.Context(), integration))

	resp := doRequest(t, env.app, http.MethodDelete, "/integrations/"+integration.ID+"?owner_id=user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteIntegrationAction(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	require.NoError(t, env.persist.IntegrationRepository().Save(t.Context(), &models.Integration{
		OwnerID: "user-1",
		Type:    models.IntegrationTypeSlack,
		Status:  models.IntegrationStatusConnected,
		Name:    "Slack - grace",
	}))

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/slack/actions", web.ExecuteActionRequest{
		OwnerID: "user-1",
		Action:  "send_message",
		Parameters: map[string]any{
			"channel": "#ops",
			"text":    "deployed",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any

	decodeJSON(t, resp, &result)
	assert.Equal(t, true, result["ok"])
	assert.Equal(t, []string{"send_message"}, env.catalog.actions)
}

func TestAPIHandlers_ExecuteIntegrationAction_RateLimited(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)
	env.limiter.allowed = false

	require.NoError(t, env.persist.IntegrationRepository().Save(t.Context(), &models.Integration{
		OwnerID: "user-1",
		Type:    models.IntegrationTypeSlack,
		Status:  models.IntegrationStatusConnected,
		Name:    "Slack - grace",
	}))

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/slack/actions", web.ExecuteActionRequest{
		OwnerID: "user-1",
		Action:  "send_message",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Empty(t, env.catalog.actions)
}

func TestAPIHandlers_ExecuteIntegrationAction_NotConnected(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/slack/actions", web.ExecuteActionRequest{
		OwnerID: "user-1",
		Action:  "send_message",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "integration_not_found", problem.Type)
}

func TestAPIHandlers_ExecuteIntegrationAction_RequiresReauth(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	require.NoError(t, env.persist.IntegrationRepository().Save(t.Context(), &models.Integration{
		OwnerID: "user-1",
		Type:    models.IntegrationTypeSlack,
		Status:  models.IntegrationStatusError,
		Name:    "Slack - grace",
	}))

	resp := doRequest(t, env.app, http.MethodPost, "/integrations/slack/actions", web.ExecuteActionRequest{
		OwnerID: "user-1",
		Action:  "send_message",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem problemBody

	decodeJSON(t, resp, &problem)
	assert.Equal(t, "reauth_required", problem.Type)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := newAPITestEnv(t)

	resp := doRequest(t, env.app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Status string `json:"status"`
	}

	decodeJSON(t, resp, &result)
	assert.Equal(t, "healthy", result.Status)
}
