package reconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownExecution means no execution matches the event's external
	// ref. The event cannot be recovered locally; callers log and drop.
	ErrUnknownExecution = errors.New("no execution matches the external ref")

	// ErrInvalidTransition means the event asked for a move the state
	// machine forbids, such as reopening a terminal execution.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrUnknownSource means no mapper is registered for the event's
	// source tag.
	ErrUnknownSource = errors.New("unknown event source")

	// ErrInvalidPayload means the payload failed the source's schema or
	// carried a status word outside the source's vocabulary.
	ErrInvalidPayload = errors.New("event payload failed validation")
)

// EventError carries the source and external ref an event failed with.
type EventError struct {
	Source      string
	ExternalRef string
	Err         error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event from %s for ref %s: %v", e.Source, e.ExternalRef, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func (e *EventError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewEventError(source, externalRef string, err error) *EventError {
	return &EventError{Source: source, ExternalRef: externalRef, Err: err}
}

func IsUnknownExecution(err error) bool {
	return errors.Is(err, ErrUnknownExecution)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsUnknownSource(err error) bool {
	return errors.Is(err, ErrUnknownSource)
}

func IsInvalidPayload(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}
