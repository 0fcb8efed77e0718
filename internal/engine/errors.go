package engine

import (
	"errors"
	"fmt"
)

// Common engine errors.
var (
	// ErrHandlerNotRegistered is returned by Registry.Resolve when no
	// handler is bound to the requested task type. At dispatch time this is
	// a validation failure: the task fails without consuming an attempt.
	ErrHandlerNotRegistered = errors.New("no handler registered for task type")

	// ErrInvalidPayload marks payload validation failures. Handlers return
	// it (wrapped or bare) when the payload can never be processed; the
	// retry policy fails such tasks immediately.
	ErrInvalidPayload = errors.New("invalid task payload")

	// ErrTaskCancelled is returned by handlers that decide the task should
	// be cancelled rather than retried or failed.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrTaskTimeout marks handler invocations that exceeded the configured
	// task timeout. Timeouts are retryable.
	ErrTaskTimeout = errors.New("task execution timed out")
)

// nonRetryableError wraps an error to mark it as permanently failing.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.err)
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}

// NonRetryable wraps err so the retry policy fails the task immediately,
// regardless of remaining attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable reports whether an execution error may be retried. Payload
// validation failures and explicitly marked errors are permanent; anything
// else, including timeouts, is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidPayload) {
		return false
	}

	var nr *nonRetryableError
	return !errors.As(err, &nr)
}
