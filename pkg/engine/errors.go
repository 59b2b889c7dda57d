package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestError is a non-2xx answer from the engine. Client errors are
// final; server errors are retried by the caller's backoff policy.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("engine returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *RequestError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	requestErr := &RequestError{}

	return errors.As(err, &requestErr) && requestErr.StatusCode == http.StatusNotFound
}
