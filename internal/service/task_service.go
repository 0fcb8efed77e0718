package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/store"
)

// CreateTaskRequest is the contract producers use to enqueue work.
type CreateTaskRequest struct {
	TaskType    string            `json:"task_type"    validate:"required"`
	Payload     json.RawMessage   `json:"payload"`
	Priority    string            `json:"priority"     validate:"omitempty,oneof=low normal high critical"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	MaxAttempts int               `json:"max_attempts" validate:"omitempty,gte=1,lte=100"`
	Metadata    map[string]string `json:"metadata"`
}

// TaskService exposes the producer-facing operations of the engine. The
// engine itself never calls it; producers and operational tooling do.
type TaskService struct {
	taskStore store.TaskStore
	typeStore store.TaskTypeStore
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewTaskService creates a TaskService over the given stores.
func NewTaskService(
	taskStore store.TaskStore,
	typeStore store.TaskTypeStore,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		taskStore: taskStore,
		typeStore: typeStore,
		validate:  validator.New(),
		logger:    logger.With("component", "task_service"),
	}
}

// Create validates the request against the registered task types and
// persists a new pending task. Unknown or inactive task types are rejected
// here, at creation time, never discovered at dispatch.
func (s *TaskService) Create(
	ctx context.Context,
	req CreateTaskRequest,
) (*domain.Task, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	taskType, err := s.typeStore.GetByName(ctx, req.TaskType)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, req.TaskType)
		}
		return nil, fmt.Errorf("failed to look up task type: %w", err)
	}
	if !taskType.Active {
		return nil, fmt.Errorf("%w: %q", ErrInactiveTaskType, req.TaskType)
	}

	opts := []domain.TaskOption{}
	if req.Priority != "" {
		opts = append(opts, domain.WithPriority(domain.TaskPriority(req.Priority)))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, domain.WithMaxAttempts(req.MaxAttempts))
	}
	if req.ScheduledAt != nil {
		opts = append(opts, domain.WithScheduledAt(req.ScheduledAt.UTC()))
	}
	if req.Metadata != nil {
		opts = append(opts, domain.WithMetadata(req.Metadata))
	}

	task, err := domain.NewTask(req.TaskType, req.Payload, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.taskStore.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"task_type", task.TaskType,
		"priority", task.Priority)

	return task, nil
}

// Get retrieves a single task by ID.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.taskStore.GetByID(ctx, id)
}

// List retrieves tasks matching the filter, newest first.
func (s *TaskService) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	return s.taskStore.List(ctx, filter)
}

// DeadLetters retrieves tasks that exhausted their retries, newest first.
// Failed tasks are never silently dropped; this is the query surface for
// inspecting them.
func (s *TaskService) DeadLetters(
	ctx context.Context,
	limit, offset int,
) ([]*domain.Task, error) {
	failed := domain.TaskStatusFailed
	return s.taskStore.List(ctx, store.TaskFilter{
		Status: &failed,
		Limit:  limit,
		Offset: offset,
	})
}

// Stats returns the number of tasks in each status.
func (s *TaskService) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return s.taskStore.CountByStatus(ctx)
}

// Cancel moves a task that has not started into the cancelled state. A task
// already claimed by an executor cannot be cancelled; the conditional
// transition reports the race and ErrNotCancellable is returned.
func (s *TaskService) Cancel(ctx context.Context, id uuid.UUID) error {
	task, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if task.Status != domain.TaskStatusPending && task.Status != domain.TaskStatusRetrying {
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, task.Status)
	}

	now := time.Now().UTC()
	reason := "cancelled by producer"
	ok, err := s.taskStore.TryTransition(ctx, id, task.Status, domain.TaskStatusCancelled,
		store.TaskUpdate{
			CompletedAt: &now,
			LastError:   &reason,
		})
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task was claimed concurrently", ErrNotCancellable)
	}

	s.logger.Info("task cancelled", "task_id", id)
	return nil
}

// RegisterTaskType upserts the registration row for a task type so that
// producers can validate against it. Workers call this at startup for every
// handler they bind.
func (s *TaskService) RegisterTaskType(ctx context.Context, name string) error {
	taskType, err := domain.NewTaskType(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.typeStore.Upsert(ctx, taskType); err != nil {
		return fmt.Errorf("failed to register task type: %w", err)
	}

	s.logger.Info("task type registered", "task_type", name)
	return nil
}
