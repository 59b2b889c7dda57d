package dispatcher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDeployed means the workflow has no active engine deployment,
	// so there is nothing to dispatch against.
	ErrNotDeployed = errors.New("workflow is not deployed")

	// ErrRateLimitExceeded means the owner's sliding window for one of
	// the workflow's integration types is full. The execution is marked
	// failed without any outbound call.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrNotCancellable means the execution is already terminal and can
	// no longer be cancelled.
	ErrNotCancellable = errors.New("execution can no longer be cancelled")
)

// DispatchError carries the operation and record id a dispatch call
// failed on.
type DispatchError struct {
	Op  string
	ID  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewDispatchError(op, id string, err error) *DispatchError {
	return &DispatchError{Op: op, ID: id, Err: err}
}

func IsNotDeployed(err error) bool {
	return errors.Is(err, ErrNotDeployed)
}

func IsRateLimitExceeded(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

func IsNotCancellable(err error) bool {
	return errors.Is(err, ErrNotCancellable)
}
