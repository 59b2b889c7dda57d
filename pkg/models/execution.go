package models

import "time"

// ExecutionStatus represents the state of a workflow execution. Terminal
// statuses are immutable once recorded.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Detail values recorded alongside a failed status.
const (
	DetailRateLimited    = "rate_limited"
	DetailDispatchError  = "dispatch_error"
	DetailReauthRequired = "reauth_required"
)

// StepResult is one per-step outcome reported by the engine. Results are
// append-only and kept in arrival order.
type StepResult struct {
	StepID     string    `json:"step_id"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// WorkflowExecution tracks one dispatched run of a workflow. ExternalRef is
// assigned exactly once at creation, before any outbound call, and is the key
// inbound callbacks are matched on. Version guards concurrent updates:
// repositories only persist an execution whose version matches the stored row,
// then increment it.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"   validate:"required"`
	Status       ExecutionStatus `json:"status"        validate:"required"`
	StatusDetail string          `json:"status_detail,omitempty"`
	ExternalRef  string          `json:"external_ref"  validate:"required"`
	EngineID     string          `json:"engine_id,omitempty"`
	StepResults  []*StepResult   `json:"step_results,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// CanCancel reports whether a cancellation request may be issued.
func (e *WorkflowExecution) CanCancel() bool {
	return e.Status == ExecutionStatusPending || e.Status == ExecutionStatusRunning
}

// AppendStepResults adds results in the order given, stamping RecordedAt when
// unset.
func (e *WorkflowExecution) AppendStepResults(now time.Time, results ...*StepResult) {
	for _, r := range results {
		if r.RecordedAt.IsZero() {
			r.RecordedAt = now
		}

		e.StepResults = append(e.StepResults, r)
	}
}
