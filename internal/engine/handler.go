package engine

import (
	"context"

	"github.com/calehall/taskwell/internal/domain"
)

// Handler executes the logic bound to one task type. New task types are
// added by registering new Handler implementations, never by branching on
// type strings inside the engine.
//
// The context carries the hard execution deadline; a handler that runs past
// it is abandoned and the attempt counts as a failure. Handlers must
// therefore be idempotent or make their external operations safe to retry.
type Handler interface {
	// Execute runs the task logic. A nil return completes the task; an
	// error return is classified by the retry policy. Wrap an error with
	// NonRetryable to fail the task immediately regardless of remaining
	// attempts.
	Execute(ctx context.Context, task *domain.Task) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.Task) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *domain.Task) error {
	return f(ctx, task)
}
