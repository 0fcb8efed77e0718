package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/store"
)

// execute runs one claimed task end to end: permit, exclusive claim,
// handler resolution, circuit check, timed invocation, and outcome
// settlement. Every failure mode converts into a store update; nothing
// propagates to the dispatcher or to sibling executors.
func (d *Dispatcher) execute(ctx context.Context, t *domain.Task) {
	logger := d.logger.With(
		"task_id", t.ID,
		"task_type", t.TaskType,
	)

	if err := d.limiter.Acquire(ctx); err != nil {
		// Shutdown while waiting for a permit; the task was never claimed
		// and stays eligible.
		return
	}
	defer d.limiter.Release()

	// Settlement updates must survive shutdown: once a task is claimed, it
	// has to be transitioned out of running even if ctx was cancelled
	// mid-execution.
	settleCtx := context.WithoutCancel(ctx)

	startedAt := time.Now().UTC()
	claimed, err := d.taskStore.TryTransition(
		settleCtx,
		t.ID,
		t.Status,
		domain.TaskStatusRunning,
		store.TaskUpdate{StartedAt: &startedAt},
	)
	if err != nil {
		logger.Error("failed to claim task", "error", err)
		return
	}
	if !claimed {
		// Another worker won the race; abort silently.
		logger.Debug("task already claimed by another worker")
		return
	}

	handler, err := d.registry.Resolve(t.TaskType)
	if err != nil {
		// Unregistered type at dispatch is a validation failure: finalize
		// without consuming an attempt. Creation-time validation makes
		// this rare, but a producer may race a worker deployment.
		logger.Error("no handler for claimed task", "error", err)
		d.settle(settleCtx, logger, t, domain.TaskStatusFailed, store.TaskUpdate{
			CompletedAt: timePtr(time.Now().UTC()),
			LastError:   stringPtr(err.Error()),
		})
		return
	}

	if !d.breaker.Allow(t.TaskType) {
		// Open circuit: skip the handler entirely and reschedule. The
		// attempt is not consumed because no execution happened.
		delay := d.breaker.RetryDelay()
		logger.Warn("circuit open, short-circuiting task", "retry_in", delay)
		d.settle(settleCtx, logger, t, domain.TaskStatusRetrying, store.TaskUpdate{
			ScheduledAt: timePtr(time.Now().UTC().Add(delay)),
			LastError:   stringPtr(fmt.Sprintf("circuit open for task type %q", t.TaskType)),
		})
		return
	}

	attempt := t.CurrentAttempt + 1
	logger = logger.With("attempt", attempt, "max_attempts", t.MaxAttempts)
	logger.Info("executing task")

	execErr := d.invokeHandler(ctx, handler, t)
	if execErr == nil {
		d.breaker.RecordSuccess(t.TaskType)
		d.settle(settleCtx, logger, t, domain.TaskStatusCompleted, store.TaskUpdate{
			CurrentAttempt: &attempt,
			CompletedAt:    timePtr(time.Now().UTC()),
		})
		logger.Info("task completed")
		return
	}

	d.breaker.RecordFailure(t.TaskType)

	t.CurrentAttempt = attempt
	decision := d.retry.NextAction(t, execErr)
	lastError := stringPtr(execErr.Error())

	switch decision.Action {
	case ActionRetry:
		logger.Warn("task failed, scheduling retry",
			"error", execErr,
			"retry_in", decision.Delay)
		d.settle(settleCtx, logger, t, domain.TaskStatusRetrying, store.TaskUpdate{
			CurrentAttempt: &attempt,
			ScheduledAt:    timePtr(time.Now().UTC().Add(decision.Delay)),
			LastError:      lastError,
		})

	case ActionCancel:
		logger.Info("task cancelled by handler", "error", execErr)
		d.settle(settleCtx, logger, t, domain.TaskStatusCancelled, store.TaskUpdate{
			CurrentAttempt: &attempt,
			CompletedAt:    timePtr(time.Now().UTC()),
			LastError:      lastError,
		})

	case ActionFail:
		logger.Error("task failed permanently", "error", execErr)
		d.settle(settleCtx, logger, t, domain.TaskStatusFailed, store.TaskUpdate{
			CurrentAttempt: &attempt,
			CompletedAt:    timePtr(time.Now().UTC()),
			LastError:      lastError,
		})
	}
}

// invokeHandler runs the handler under the task timeout. The handler runs
// in its own goroutine so that one ignoring its context deadline is
// abandoned rather than blocking the executor; its side effects are not
// rolled back, which is why handlers must be idempotent. Panics inside the
// handler are converted into execution errors.
func (d *Dispatcher) invokeHandler(
	ctx context.Context,
	handler Handler,
	t *domain.Task,
) error {
	execCtx, cancel := context.WithTimeout(ctx, d.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- handler.Execute(execCtx, t)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		return fmt.Errorf("%w after %s", ErrTaskTimeout, d.config.TaskTimeout)
	}
}

// settle applies the outcome transition from running, logging rather than
// propagating any store failure. A lost settle leaves the task in running
// until the stuck sweep recovers it.
func (d *Dispatcher) settle(
	ctx context.Context,
	logger *slog.Logger,
	t *domain.Task,
	next domain.TaskStatus,
	update store.TaskUpdate,
) {
	ok, err := d.taskStore.TryTransition(ctx, t.ID, domain.TaskStatusRunning, next, update)
	if err != nil {
		logger.Error("failed to settle task",
			"new_status", next,
			"error", err)
		return
	}
	if !ok {
		logger.Error("task left running state unexpectedly", "new_status", next)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func stringPtr(s string) *string {
	return &s
}
