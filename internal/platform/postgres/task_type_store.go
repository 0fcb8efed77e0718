package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/platform/logger"
	"github.com/calehall/taskwell/internal/store"
)

// PostgresTaskTypeStore implements the store.TaskTypeStore interface using
// PostgreSQL.
type PostgresTaskTypeStore struct {
	db store.DBTX
}

// NewPostgresTaskTypeStore creates a new PostgresTaskTypeStore.
func NewPostgresTaskTypeStore(db store.DBTX) *PostgresTaskTypeStore {
	return &PostgresTaskTypeStore{
		db: db,
	}
}

// WithTx returns a new TaskTypeStore instance that uses the provided transaction.
func (s *PostgresTaskTypeStore) WithTx(tx *sql.Tx) store.TaskTypeStore {
	return &PostgresTaskTypeStore{
		db: tx,
	}
}

// Upsert creates the task type registration or refreshes its active flag.
// Workers call this at startup for every handler they register, so producers
// can validate task types at creation time.
func (s *PostgresTaskTypeStore) Upsert(ctx context.Context, tt *domain.TaskType) error {
	log := logger.FromContext(ctx)

	if err := tt.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO task_types (name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name)
		DO UPDATE SET active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		tt.Name,
		tt.Active,
		tt.CreatedAt,
		tt.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to upsert task type",
			"task_type", tt.Name,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByName retrieves a task type registration by name.
func (s *PostgresTaskTypeStore) GetByName(
	ctx context.Context,
	name string,
) (*domain.TaskType, error) {
	query := `
		SELECT name, active, created_at, updated_at
		FROM task_types
		WHERE name = $1
	`

	var tt domain.TaskType
	err := s.db.QueryRowContext(ctx, query, name).
		Scan(&tt.Name, &tt.Active, &tt.CreatedAt, &tt.UpdatedAt)
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, fmt.Errorf("%w: %q", store.ErrTaskTypeNotFound, name)
		}
		return nil, fmt.Errorf("failed to get task type: %w", MapError(err))
	}

	return &tt, nil
}

// List retrieves all task type registrations ordered by name.
func (s *PostgresTaskTypeStore) List(ctx context.Context) ([]*domain.TaskType, error) {
	query := `
		SELECT name, active, created_at, updated_at
		FROM task_types
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list task types: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var types []*domain.TaskType
	for rows.Next() {
		var tt domain.TaskType
		if err := rows.Scan(&tt.Name, &tt.Active, &tt.CreatedAt, &tt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task type row: %w", err)
		}
		types = append(types, &tt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task type rows: %w", MapError(err))
	}

	return types, nil
}
