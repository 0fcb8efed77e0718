package store

import (
	"context"
	"database/sql"

	"github.com/calehall/taskwell/internal/domain"
)

// TaskTypeStore defines the interface for persisting task type registrations.
type TaskTypeStore interface {
	// Upsert creates the task type registration or, if a row with the same
	// name exists, refreshes its active flag. Last registration wins.
	Upsert(ctx context.Context, taskType *domain.TaskType) error

	// GetByName retrieves a task type registration by name.
	// Returns ErrTaskTypeNotFound if the type has never been registered.
	GetByName(ctx context.Context, name string) (*domain.TaskType, error)

	// List retrieves all task type registrations ordered by name.
	List(ctx context.Context) ([]*domain.TaskType, error)

	// WithTx returns a new TaskTypeStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskTypeStore
}
