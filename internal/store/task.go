package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/calehall/taskwell/internal/domain"
)

// TaskUpdate carries the optional field writes applied alongside a status
// transition. Nil fields are left untouched.
type TaskUpdate struct {
	// CurrentAttempt, when set, records the attempt number consumed by the
	// execution being settled.
	CurrentAttempt *int

	// ScheduledAt, when set, records the earliest time the task becomes
	// eligible again (used when scheduling a retry).
	ScheduledAt *time.Time

	// StartedAt, when set, records when the executor began the attempt.
	StartedAt *time.Time

	// CompletedAt, when set, records when the task reached a terminal state.
	CompletedAt *time.Time

	// LastError, when set, records human-readable failure detail.
	LastError *string
}

// TaskFilter narrows a List query. Zero values mean "no constraint";
// Limit of zero applies the store's default page size.
type TaskFilter struct {
	Status   *domain.TaskStatus
	TaskType *string
	Limit    int
	Offset   int
}

// TaskStore defines the interface for persisting tasks.
type TaskStore interface {
	// Create persists a new task. Returns ErrDuplicate if a task with the
	// same ID already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ClaimBatch selects up to limit tasks eligible for dispatch at the
	// given time, ordered by priority (highest first) and then creation
	// time (oldest first). It does not transition the selected tasks;
	// exclusivity is enforced by the executor's TryTransition call, so
	// concurrent dispatchers may observe overlapping batches safely.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*domain.Task, error)

	// TryTransition performs a single atomic conditional status update.
	// It returns false (with no error) when the task is no longer in the
	// expected status, meaning another worker won the race.
	TryTransition(
		ctx context.Context,
		id uuid.UUID,
		expected, next domain.TaskStatus,
		update TaskUpdate,
	) (bool, error)

	// List retrieves tasks matching the filter, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CountByStatus returns the number of tasks in each status.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// ReleaseStuck resets tasks that have been running longer than olderThan
	// back to pending, recording the reason, and returns how many were
	// reset. Used to recover tasks orphaned by a crashed worker.
	ReleaseStuck(ctx context.Context, olderThan time.Duration, reason string) (int, error)

	// WithTx returns a new TaskStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskStore
}
