// Package service implements the producer-facing operations of the task
// engine: creating tasks (validated against registered task types), querying
// task state for operational tooling, and inspecting the dead-letter set.
// Services orchestrate domain logic and store access without knowing about
// any particular transport.
package service
