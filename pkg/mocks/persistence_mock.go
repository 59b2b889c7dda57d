package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/persistence"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) SetDeployed(ctx context.Context, id, deployedRef string) error {
	args := m.Called(ctx, id, deployedRef)

	return args.Error(0)
}

func (m *MockWorkflowRepository) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	args := m.Called(ctx, id, status)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	args := m.Called(ctx, exec)

	return args.Error(0)
}

func (m *MockExecutionRepository) Update(ctx context.Context, exec *models.WorkflowExecution) error {
	args := m.Called(ctx, exec)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) GetByExternalRef(ctx context.Context, externalRef string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListStale(ctx context.Context, statuses []models.ExecutionStatus, updatedBefore time.Time, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, statuses, updatedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) DeleteFinishedBefore(ctx context.Context, finishedBefore time.Time) (int64, error) {
	args := m.Called(ctx, finishedBefore)

	return args.Get(0).(int64), args.Error(1)
}

// MockIntegrationRepository is a mock implementation of persistence.IntegrationRepository interface.
type MockIntegrationRepository struct {
	mock.Mock
}

func (m *MockIntegrationRepository) Save(ctx context.Context, integration *models.Integration) error {
	args := m.Called(ctx, integration)

	return args.Error(0)
}

func (m *MockIntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Integration), args.Error(1)
}

func (m *MockIntegrationRepository) GetByOwnerAndType(ctx context.Context, ownerID string, integrationType models.IntegrationType) (*models.Integration, error) {
	args := m.Called(ctx, ownerID, integrationType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Integration), args.Error(1)
}

func (m *MockIntegrationRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Integration, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Integration), args.Error(1)
}

func (m *MockIntegrationRepository) SetStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	args := m.Called(ctx, id, status)

	return args.Error(0)
}

func (m *MockIntegrationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockTokenRepository is a mock implementation of persistence.TokenRepository interface.
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Save(ctx context.Context, token *models.IntegrationToken) error {
	args := m.Called(ctx, token)

	return args.Error(0)
}

func (m *MockTokenRepository) Get(ctx context.Context, integrationID string) (*models.IntegrationToken, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.IntegrationToken), args.Error(1)
}

func (m *MockTokenRepository) Delete(ctx context.Context, integrationID string) error {
	args := m.Called(ctx, integrationID)

	return args.Error(0)
}

// MockWebhookEventRepository is a mock implementation of persistence.WebhookEventRepository interface.
type MockWebhookEventRepository struct {
	mock.Mock
}

func (m *MockWebhookEventRepository) Save(ctx context.Context, event *models.WebhookEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockWebhookEventRepository) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventRepository) MarkProcessed(ctx context.Context, id, result string, processedAt time.Time) error {
	args := m.Called(ctx, id, result, processedAt)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	workflowRepo     *MockWorkflowRepository
	executionRepo    *MockExecutionRepository
	integrationRepo  *MockIntegrationRepository
	tokenRepo        *MockTokenRepository
	webhookEventRepo *MockWebhookEventRepository
}

// NewMockPersistence creates a new MockPersistence with all mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflowRepo:     &MockWorkflowRepository{},
		executionRepo:    &MockExecutionRepository{},
		integrationRepo:  &MockIntegrationRepository{},
		tokenRepo:        &MockTokenRepository{},
		webhookEventRepo: &MockWebhookEventRepository{},
	}
}

// GetMockWorkflowRepository returns the underlying mock workflow repository for setting up expectations.
func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflowRepo
}

// GetMockExecutionRepository returns the underlying mock execution repository for setting up expectations.
func (m *MockPersistence) GetMockExecutionRepository() *MockExecutionRepository {
	return m.executionRepo
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.executionRepo
}

// GetMockIntegrationRepository returns the underlying mock integration repository for setting up expectations.
func (m *MockPersistence) GetMockIntegrationRepository() *MockIntegrationRepository {
	return m.integrationRepo
}

func (m *MockPersistence) IntegrationRepository() persistence.IntegrationRepository {
	return m.integrationRepo
}

// GetMockTokenRepository returns the underlying mock token repository for setting up expectations.
func (m *MockPersistence) GetMockTokenRepository() *MockTokenRepository {
	return m.tokenRepo
}

func (m *MockPersistence) TokenRepository() persistence.TokenRepository {
	return m.tokenRepo
}

// GetMockWebhookEventRepository returns the underlying mock webhook event repository for setting up expectations.
func (m *MockPersistence) GetMockWebhookEventRepository() *MockWebhookEventRepository {
	return m.webhookEventRepo
}

func (m *MockPersistence) WebhookEventRepository() persistence.WebhookEventRepository {
	return m.webhookEventRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
