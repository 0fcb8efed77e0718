package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/store"
)

// discardLogger silences engine logging in tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestDispatcher builds a dispatcher with fast test timings.
func newTestDispatcher(
	taskStore *MockTaskStore,
	registry *Registry,
	mutate func(*DispatcherConfig),
) *Dispatcher {
	config := DispatcherConfig{
		BatchSize:          50,
		PollInterval:       5 * time.Millisecond,
		TaskTimeout:        time.Second,
		MaxConcurrentTasks: 10,
		Retry: RetryPolicyConfig{
			BaseDelay: time.Millisecond,
			MaxDelay:  10 * time.Millisecond,
			Jitter:    0,
		},
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 100,
			FailureWindow:    time.Minute,
			RecoveryTimeout:  30 * time.Second,
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	return NewDispatcher(taskStore, registry, config, discardLogger())
}

// mustCreateTask persists a new task and returns it as the dispatcher would
// fetch it.
func mustCreateTask(
	t *testing.T,
	taskStore *MockTaskStore,
	taskType string,
	opts ...domain.TaskOption,
) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(taskType, json.RawMessage(`{}`), opts...)
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(context.Background(), task))
	return task
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()

	var invocations atomic.Int64
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		invocations.Add(1)
		return nil
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send")

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentAttempt)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(1), invocations.Load())
	assert.Equal(t, BreakerClosed, d.Breaker().State("email_send"))
}

func TestExecuteFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		return errors.New("smtp unavailable")
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(3))

	before := time.Now().UTC()
	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetrying, got.Status)
	assert.Equal(t, 1, got.CurrentAttempt)
	assert.Contains(t, got.LastError, "smtp unavailable")
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, got.ScheduledAt.After(before))
}

func TestExecuteExhaustedAttemptsFails(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		return errors.New("smtp unavailable")
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(3))

	// Simulate a task with two earlier failed attempts.
	task.CurrentAttempt = 2

	attempts := 2
	ok, err := taskStore.TryTransition(
		context.Background(), task.ID,
		domain.TaskStatusPending, domain.TaskStatusRunning,
		store.TaskUpdate{CurrentAttempt: &attempts},
	)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = taskStore.TryTransition(
		context.Background(), task.ID,
		domain.TaskStatusRunning, domain.TaskStatusRetrying,
		store.TaskUpdate{},
	)
	require.NoError(t, err)
	require.True(t, ok)
	task.Status = domain.TaskStatusRetrying

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, 3, got.CurrentAttempt)
	assert.NotNil(t, got.CompletedAt)
	assert.NotEmpty(t, got.LastError)
}

func TestExecuteNonRetryableErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		return NonRetryable(errors.New("recipient rejected"))
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(5))

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, 1, got.CurrentAttempt)
}

func TestExecuteTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("slow", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	d := newTestDispatcher(taskStore, registry, func(c *DispatcherConfig) {
		c.TaskTimeout = 10 * time.Millisecond
	})
	task := mustCreateTask(t, taskStore, "slow", domain.WithMaxAttempts(3))

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetrying, got.Status)
	assert.Contains(t, got.LastError, "timed out")
}

func TestExecuteHandlerPanicIsIsolated(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		panic("nil pointer somewhere in the handler")
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(2))

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetrying, got.Status)
	assert.Contains(t, got.LastError, "panicked")
}

func TestExecuteMissingHandlerFailsWithoutAttempt(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	d := newTestDispatcher(taskStore, NewRegistry(), nil)
	task := mustCreateTask(t, taskStore, "orphaned_type")

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, 0, got.CurrentAttempt, "dispatch-time validation must not consume an attempt")
	assert.Contains(t, got.LastError, "no handler registered")
}

func TestExecuteShortCircuitsWhenCircuitOpen(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()

	var invocations atomic.Int64
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		invocations.Add(1)
		return errors.New("smtp unavailable")
	}))

	d := newTestDispatcher(taskStore, registry, func(c *DispatcherConfig) {
		c.Breaker = CircuitBreakerConfig{
			FailureThreshold: 1,
			FailureWindow:    time.Minute,
			RecoveryTimeout:  30 * time.Second,
		}
	})

	// Trip the circuit with one failing execution.
	first := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(5))
	d.execute(context.Background(), first)
	require.Equal(t, BreakerOpen, d.Breaker().State("email_send"))
	require.Equal(t, int64(1), invocations.Load())

	second := mustCreateTask(t, taskStore, "email_send", domain.WithMaxAttempts(5))
	d.execute(context.Background(), second)

	got, err := taskStore.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRetrying, got.Status)
	assert.Equal(t, 0, got.CurrentAttempt, "short-circuit must not consume an attempt")
	assert.Contains(t, got.LastError, "circuit open")
	require.NotNil(t, got.ScheduledAt)
	assert.Equal(t, int64(1), invocations.Load(), "handler must not be invoked while open")
}

func TestExecuteAbortsSilentlyWhenClaimLost(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()

	var invocations atomic.Int64
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		invocations.Add(1)
		return nil
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send")

	// Another worker claims the task first.
	now := time.Now().UTC()
	ok, err := taskStore.TryTransition(
		context.Background(), task.ID,
		domain.TaskStatusPending, domain.TaskStatusRunning,
		store.TaskUpdate{StartedAt: &now},
	)
	require.NoError(t, err)
	require.True(t, ok)

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, int64(0), invocations.Load())
}

func TestExecuteHandlerCancellation(t *testing.T) {
	t.Parallel()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	registry.Register("email_send", HandlerFunc(func(ctx context.Context, task *domain.Task) error {
		return ErrTaskCancelled
	}))

	d := newTestDispatcher(taskStore, registry, nil)
	task := mustCreateTask(t, taskStore, "email_send")

	d.execute(context.Background(), task)

	got, err := taskStore.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
}
