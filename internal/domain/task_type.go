package domain

import (
	"errors"
	"time"
)

// Common validation errors for TaskType
var (
	ErrEmptyTaskTypeName = errors.New("task type name cannot be empty")
)

// TaskType is the registration record binding a task type name to whether
// the type currently accepts new tasks. Rows are upserted by workers at
// startup when they register handlers, and are read-only to producers, who
// use them purely as a creation-time validation gate.
type TaskType struct {
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskType creates an active TaskType registration for the given name.
// Returns an error if validation fails.
func NewTaskType(name string) (*TaskType, error) {
	now := time.Now().UTC()
	tt := &TaskType{
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := tt.Validate(); err != nil {
		return nil, err
	}

	return tt, nil
}

// Validate checks if the TaskType has valid data.
func (t *TaskType) Validate() error {
	if t.Name == "" {
		return ErrEmptyTaskTypeName
	}
	return nil
}
