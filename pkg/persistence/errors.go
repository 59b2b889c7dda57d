package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by id or external ref.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrIntegrationNotFound indicates an integration was not found.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrTokenNotFound indicates no token is stored for the integration.
	ErrTokenNotFound = errors.New("integration token not found")

	// ErrWebhookEventNotFound indicates a webhook event was not found.
	ErrWebhookEventNotFound = errors.New("webhook event not found")

	// ErrVersionConflict indicates a conditional update lost against a
	// concurrent writer; the caller should re-read and re-apply.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrDuplicateExternalRef indicates an execution with the same external
	// ref already exists.
	ErrDuplicateExternalRef = errors.New("duplicate external ref")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "Create", "Update")
	ExecutionID string // Execution ID if applicable
	ExternalRef string // External ref if applicable
	Err         error  // Underlying error
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if target == "" && e.ExternalRef != "" {
		target = fmt.Sprintf("ref %s", e.ExternalRef)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// NewExecutionRefError creates a new execution error keyed by external ref.
func NewExecutionRefError(op, externalRef string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExternalRef: externalRef,
		Err:         err,
	}
}

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed
	WorkflowID string // Workflow ID
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsIntegrationNotFound checks if an error indicates an integration was not found.
func IsIntegrationNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound)
}

// IsTokenNotFound checks if an error indicates no stored token exists.
func IsTokenNotFound(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}

// IsWebhookEventNotFound checks if an error indicates a webhook event was not found.
func IsWebhookEventNotFound(err error) bool {
	return errors.Is(err, ErrWebhookEventNotFound)
}

// IsVersionConflict checks if an error indicates a lost conditional update.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsDuplicateExternalRef checks if an error indicates an external ref collision.
func IsDuplicateExternalRef(err error) bool {
	return errors.Is(err, ErrDuplicateExternalRef)
}
