package service

import "errors"

// Common service errors exposed to producers and operational tooling.
var (
	// ErrUnknownTaskType is returned when a producer creates a task whose
	// type has never been registered by any worker. Rejecting at creation
	// time prevents orphaned tasks that could never execute.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInactiveTaskType is returned when the task type exists but no
	// longer accepts new tasks.
	ErrInactiveTaskType = errors.New("task type is not active")

	// ErrInvalidRequest is returned when a create request fails field
	// validation. The wrapped error carries the details.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotCancellable is returned when a cancellation races an executor
	// that already started (or finished) the task.
	ErrNotCancellable = errors.New("task is not in a cancellable state")
)
