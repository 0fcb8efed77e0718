package engine

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calehall/taskwell/internal/domain"
	"github.com/calehall/taskwell/internal/store"
)

// MockTaskStore is an in-memory implementation of store.TaskStore for
// testing. It reproduces the store's concurrency contract: TryTransition is
// atomic under a mutex, so concurrent claims for the same task resolve to
// exactly one winner.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	// ClaimBatchFn, when set, replaces the default ClaimBatch behavior.
	// Used to inject infrastructure errors.
	ClaimBatchFn func(ctx context.Context, limit int, now time.Time) ([]*domain.Task, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Create persists a new task.
func (m *MockTaskStore) Create(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	m.tasks[t.ID] = copyTask(t)
	return nil
}

// GetByID retrieves a task by ID.
func (m *MockTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// ClaimBatch selects up to limit eligible tasks ordered by priority rank
// (descending) and creation time (ascending).
func (m *MockTaskStore) ClaimBatch(
	ctx context.Context,
	limit int,
	now time.Time,
) ([]*domain.Task, error) {
	if m.ClaimBatchFn != nil {
		return m.ClaimBatchFn(ctx, limit, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*domain.Task
	for _, t := range m.tasks {
		if t.EligibleAt(now) {
			eligible = append(eligible, copyTask(t))
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i].Priority.Rank(), eligible[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// TryTransition performs an atomic conditional status update.
func (m *MockTaskStore) TryTransition(
	_ context.Context,
	id uuid.UUID,
	expected, next domain.TaskStatus,
	update store.TaskUpdate,
) (bool, error) {
	if !expected.CanTransitionTo(next) {
		return false, domain.ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != expected {
		return false, nil
	}

	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	if update.CurrentAttempt != nil {
		t.CurrentAttempt = *update.CurrentAttempt
	}
	if update.ScheduledAt != nil {
		t.ScheduledAt = update.ScheduledAt
	}
	if update.StartedAt != nil {
		t.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		t.CompletedAt = update.CompletedAt
	}
	if update.LastError != nil {
		t.LastError = *update.LastError
	}
	return true, nil
}

// List retrieves tasks matching the filter, newest first.
func (m *MockTaskStore) List(
	_ context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*domain.Task
	for _, t := range m.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.TaskType != nil && t.TaskType != *filter.TaskType {
			continue
		}
		tasks = append(tasks, copyTask(t))
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return nil, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// CountByStatus returns the number of tasks in each status.
func (m *MockTaskStore) CountByStatus(
	_ context.Context,
) (map[domain.TaskStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// ReleaseStuck resets running tasks older than olderThan back to pending.
func (m *MockTaskStore) ReleaseStuck(
	_ context.Context,
	olderThan time.Duration,
	reason string,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	released := 0
	for _, t := range m.tasks {
		if t.Status == domain.TaskStatusRunning && t.StartedAt != nil &&
			t.StartedAt.Before(cutoff) {
			t.Status = domain.TaskStatusPending
			t.StartedAt = nil
			t.LastError = reason
			t.UpdatedAt = time.Now().UTC()
			released++
		}
	}
	return released, nil
}

// WithTx returns the store itself; the mock has no transaction support.
func (m *MockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// copyTask returns a shallow copy so callers cannot mutate stored state
// without going through TryTransition.
func copyTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}
