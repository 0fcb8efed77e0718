package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/calehall/taskwell/internal/domain"
)

// Action is the retry policy's verdict on a failed execution.
type Action int

// Possible retry policy actions.
const (
	// ActionRetry schedules the task for another attempt after a delay.
	ActionRetry Action = iota

	// ActionFail finalizes the task as failed (the dead-letter state).
	ActionFail

	// ActionCancel finalizes the task as cancelled.
	ActionCancel
)

// Decision is the outcome of consulting the retry policy for a failed task.
type Decision struct {
	Action Action

	// Delay is the backoff before the next attempt. Only meaningful for
	// ActionRetry.
	Delay time.Duration
}

// RetryPolicyConfig holds the backoff settings of the retry policy.
type RetryPolicyConfig struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.25 yields delays in [0.75d, 1.25d].
	Jitter float64
}

// DefaultRetryPolicyConfig returns a RetryPolicyConfig with reasonable defaults.
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Minute,
		Jitter:    0.25,
	}
}

// RetryPolicy decides whether a failed task should retry and computes the
// backoff before the next attempt. It is a pure function of the task's
// attempt counters and the error class; it performs no I/O.
type RetryPolicy struct {
	config RetryPolicyConfig
}

// NewRetryPolicy creates a RetryPolicy with the given configuration,
// falling back to defaults for unset values.
func NewRetryPolicy(config RetryPolicyConfig) *RetryPolicy {
	defaults := DefaultRetryPolicyConfig()
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = defaults.Jitter
	}

	return &RetryPolicy{config: config}
}

// NextAction classifies a failed execution. The task's CurrentAttempt must
// already reflect the attempt that just failed.
func (p *RetryPolicy) NextAction(task *domain.Task, taskErr error) Decision {
	if errors.Is(taskErr, ErrTaskCancelled) {
		return Decision{Action: ActionCancel}
	}

	if !IsRetryable(taskErr) {
		return Decision{Action: ActionFail}
	}

	if task.CurrentAttempt >= task.MaxAttempts {
		return Decision{Action: ActionFail}
	}

	return Decision{
		Action: ActionRetry,
		Delay:  p.Delay(task.CurrentAttempt),
	}
}

// Delay computes the backoff after the given 1-based attempt number:
// base * 2^(attempt-1), jittered, capped at the configured maximum.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.config.MaxDelay {
			delay = p.config.MaxDelay
			break
		}
	}

	if p.config.Jitter > 0 {
		// Spread the delay uniformly across [1-jitter, 1+jitter].
		factor := 1 + p.config.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}

	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}

	return delay
}
