package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/platform/logger"
	"github.com/calehall/taskwell/internal/store"
)

// taskColumns is the canonical column list scanned by scanTask.
const taskColumns = `id, task_type, payload, status, priority, max_attempts,
	current_attempt, scheduled_at, started_at, completed_at, last_error,
	metadata, created_at, updated_at`

// priorityRankExpr orders tasks by dispatch priority. Higher priorities are
// claimed first; within a priority, creation order breaks ties.
const priorityRankExpr = `CASE priority
	WHEN 'critical' THEN 3
	WHEN 'high' THEN 2
	WHEN 'normal' THEN 1
	ELSE 0
END`

// defaultListLimit is the page size applied when a List filter does not set one.
const defaultListLimit = 50

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db: tx,
	}
}

// Create persists a new task.
func (s *PostgresTaskStore) Create(ctx context.Context, t *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task metadata: %w", err)
	}

	query := `
		INSERT INTO tasks (id, task_type, payload, status, priority,
			max_attempts, current_attempt, scheduled_at, last_error,
			metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		t.ID,
		t.TaskType,
		[]byte(t.Payload),
		t.Status,
		t.Priority,
		t.MaxAttempts,
		t.CurrentAttempt,
		t.ScheduledAt,
		t.LastError,
		metadata,
		t.CreatedAt,
		t.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to save task",
			"task_id", t.ID,
			"task_type", t.TaskType,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	row := s.db.QueryRowContext(ctx, query, id)
	t, err := scanTask(row)
	if err != nil {
		if mapped := MapError(err); store.IsNotFoundError(mapped) {
			return nil, fmt.Errorf("%w: %v", store.ErrTaskNotFound, err)
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}

	return t, nil
}

// ClaimBatch selects up to limit tasks eligible for dispatch at the given
// time, highest priority first and oldest first within a priority. The
// selection does not transition any task; exclusivity comes from the
// executor's TryTransition call, so no long-lived lock is held across the
// batch.
func (s *PostgresTaskStore) ClaimBatch(
	ctx context.Context,
	limit int,
	now time.Time,
) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE status IN ('pending', 'retrying')
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY %s DESC, created_at ASC
		LIMIT $2
	`, taskColumns, priorityRankExpr)

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		log.Error("failed to claim task batch", "error", err)
		return nil, fmt.Errorf("failed to claim task batch: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", MapError(err))
	}

	return tasks, nil
}

// TryTransition performs a single atomic conditional status update. The
// WHERE clause re-checks the expected status so that when multiple workers
// race for the same task, exactly one observes a row change.
func (s *PostgresTaskStore) TryTransition(
	ctx context.Context,
	id uuid.UUID,
	expected, next domain.TaskStatus,
	update store.TaskUpdate,
) (bool, error) {
	log := logger.FromContext(ctx)

	if !expected.CanTransitionTo(next) {
		return false, fmt.Errorf(
			"%w: %s -> %s", domain.ErrInvalidTransition, expected, next)
	}

	set := []string{"status = $1", "updated_at = $2"}
	args := []any{next, time.Now().UTC()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.CurrentAttempt != nil {
		appendSet("current_attempt", *update.CurrentAttempt)
	}
	if update.ScheduledAt != nil {
		appendSet("scheduled_at", *update.ScheduledAt)
	}
	if update.StartedAt != nil {
		appendSet("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		appendSet("completed_at", *update.CompletedAt)
	}
	if update.LastError != nil {
		appendSet("last_error", *update.LastError)
	}

	args = append(args, id, expected)
	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d AND status = $%d",
		strings.Join(set, ", "), len(args)-1, len(args),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to transition task",
			"task_id", id,
			"expected_status", expected,
			"new_status", next,
			"error", err)
		return false, fmt.Errorf("failed to transition task: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// List retrieves tasks matching the filter, newest first.
func (s *PostgresTaskStore) List(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TaskType != nil {
		args = append(args, *filter.TaskType)
		conditions = append(conditions, fmt.Sprintf("task_type = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	limitClause := fmt.Sprintf("LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	offsetClause := fmt.Sprintf("OFFSET $%d", len(args))

	query := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		%s
		ORDER BY created_at DESC
		%s %s
	`, taskColumns, where, limitClause, offsetClause)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", MapError(err))
	}

	return tasks, nil
}

// CountByStatus returns the number of tasks in each status.
func (s *PostgresTaskStore) CountByStatus(
	ctx context.Context,
) (map[domain.TaskStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", MapError(err))
	}

	return counts, nil
}

// ReleaseStuck resets tasks that have been running longer than olderThan
// back to pending. A task only ends up here when the worker that claimed it
// died before settling the execution, so resetting it makes it eligible for
// re-dispatch.
func (s *PostgresTaskStore) ReleaseStuck(
	ctx context.Context,
	olderThan time.Duration,
	reason string,
) (int, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = 'pending', last_error = $1, started_at = NULL, updated_at = $2
		WHERE status = 'running' AND started_at IS NOT NULL AND started_at < $3
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, reason, now, now.Add(-olderThan))
	if err != nil {
		log.Error("failed to release stuck tasks", "error", err)
		return 0, fmt.Errorf("failed to release stuck tasks: %w", MapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask maps one row in taskColumns order onto a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var payload []byte
	var scheduledAt, startedAt, completedAt sql.NullTime
	var lastError sql.NullString
	var metadata []byte

	err := row.Scan(
		&t.ID,
		&t.TaskType,
		&payload,
		&t.Status,
		&t.Priority,
		&t.MaxAttempts,
		&t.CurrentAttempt,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&lastError,
		&metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Payload = json.RawMessage(payload)
	t.LastError = lastError.String
	if scheduledAt.Valid {
		t.ScheduledAt = &scheduledAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task metadata: %w", err)
		}
	}

	return &t, nil
}

// marshalMetadata serializes the metadata map for the JSONB column,
// preserving NULL for absent metadata.
func marshalMetadata(md map[string]string) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	return json.Marshal(md)
}
