package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRetrying  TaskStatus = "retrying"
)

// TaskPriority represents the dispatch priority of a task
type TaskPriority string

// Possible task priority values
const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskType      = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidPriority    = errors.New("invalid task priority")
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	ErrInvalidTransition  = errors.New("invalid task status transition")
)

// DefaultMaxAttempts is applied when a producer does not specify a retry bound.
const DefaultMaxAttempts = 3

// Task represents a unit of background work persisted in the shared task
// store. It is created by a producer in the pending state and mutated only
// by the engine thereafter. A task is eligible for dispatch iff its status
// is pending or retrying and its scheduled_at is unset or in the past.
type Task struct {
	ID             uuid.UUID         `json:"id"`
	TaskType       string            `json:"task_type"`
	Payload        json.RawMessage   `json:"payload"`
	Status         TaskStatus        `json:"status"`
	Priority       TaskPriority      `json:"priority"`
	MaxAttempts    int               `json:"max_attempts"`
	CurrentAttempt int               `json:"current_attempt"`
	ScheduledAt    *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TaskOption customizes a task at construction time.
type TaskOption func(*Task)

// WithPriority sets the task's dispatch priority.
func WithPriority(p TaskPriority) TaskOption {
	return func(t *Task) { t.Priority = p }
}

// WithMaxAttempts sets the retry bound for the task.
func WithMaxAttempts(n int) TaskOption {
	return func(t *Task) { t.MaxAttempts = n }
}

// WithScheduledAt defers the task's earliest dispatch time.
func WithScheduledAt(at time.Time) TaskOption {
	return func(t *Task) { t.ScheduledAt = &at }
}

// WithMetadata attaches free-form annotations to the task. The engine does
// not interpret them; they are passed through for observability tooling.
func WithMetadata(md map[string]string) TaskOption {
	return func(t *Task) { t.Metadata = md }
}

// NewTask creates a new Task of the given type with the given payload.
// It generates a new UUID, sets the status to pending, applies defaults
// for priority and max attempts, and sets the creation timestamps.
// Returns an error if validation fails.
func NewTask(taskType string, payload json.RawMessage, opts ...TaskOption) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		TaskType:    taskType,
		Payload:     payload,
		Status:      TaskStatusPending,
		Priority:    TaskPriorityNormal,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, opt := range opts {
		opt(task)
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.TaskType == "" {
		return ErrEmptyTaskType
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	if !t.Priority.IsValid() {
		return ErrInvalidPriority
	}

	if t.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	return nil
}

// EligibleAt reports whether the task may be dispatched at the given time.
func (t *Task) EligibleAt(now time.Time) bool {
	if t.Status != TaskStatusPending && t.Status != TaskStatusRetrying {
		return false
	}
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// IsValid checks if the given status is one of the defined TaskStatus values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusRetrying:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state.
// No transition ever leaves a terminal state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Entry to running is only valid from pending or retrying; a
// running task may settle into any of the remaining states.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case TaskStatusPending, TaskStatusRetrying:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		switch next {
		case TaskStatusCompleted, TaskStatusRetrying, TaskStatusFailed, TaskStatusCancelled:
			return true
		}
	}
	return false
}

// IsValid checks if the given priority is one of the defined TaskPriority values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh, TaskPriorityCritical:
		return true
	}
	return false
}

// Rank returns the numeric dispatch rank for the priority; higher ranks
// are claimed first. Within a rank, older tasks are claimed first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityCritical:
		return 3
	case TaskPriorityHigh:
		return 2
	case TaskPriorityNormal:
		return 1
	case TaskPriorityLow:
		return 0
	default:
		return 0
	}
}
