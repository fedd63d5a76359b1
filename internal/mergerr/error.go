// Package mergerr defines error types that are shared between packages.
package mergerr

import "fmt"

// RetryableError wraps an error of an operation that can be retried.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
}

func NewRetryableError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s", e.Err)
}
