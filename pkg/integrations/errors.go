package integrations

import (
	"errors"
	"fmt"

	"github.com/loki-platform/loki/pkg/models"
)

var (
	// ErrProviderNotSupported is returned when an integration type has no
	// direct action provider.
	ErrProviderNotSupported = errors.New("integration type does not support direct actions")
	// ErrUnknownAction is returned when a provider does not implement the
	// requested action.
	ErrUnknownAction = errors.New("unknown integration action")
	// ErrMissingParameter is returned when an action parameter is absent
	// or not a string.
	ErrMissingParameter = errors.New("missing required parameter")
)

// ActionError reports a failed provider call with enough context to tell
// which integration and action were involved.
type ActionError struct {
	Op     string
	Type   models.IntegrationType
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("integration %s %s: %v", e.Op, e.Type, e.Err)
	}

	return fmt.Sprintf("integration %s %s/%s: %v", e.Op, e.Type, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewActionError(op string, integrationType models.IntegrationType, action string, err error) *ActionError {
	return &ActionError{
		Op:     op,
		Type:   integrationType,
		Action: action,
		Err:    err,
	}
}

func IsProviderNotSupported(err error) bool {
	return errors.Is(err, ErrProviderNotSupported)
}

func IsUnknownAction(err error) bool {
	return errors.Is(err, ErrUnknownAction)
}

func IsMissingParameter(err error) bool {
	return errors.Is(err, ErrMissingParameter)
}
