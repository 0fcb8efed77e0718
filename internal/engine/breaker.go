package engine

import (
	"sync"
	"time"
)

// BreakerState represents the state of one task type's circuit.
type BreakerState string

// Possible circuit breaker states.
const (
	// BreakerClosed is the healthy state: executions proceed normally.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen short-circuits executions: the handler is not invoked and
	// tasks are rescheduled for after the recovery timeout.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen admits a single probe execution whose outcome either
	// closes or re-opens the circuit.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig holds the failure-tracking settings of the breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is how many failures within FailureWindow open the
	// circuit for a task type.
	FailureThreshold int

	// FailureWindow is the rolling window over which failures are counted.
	FailureWindow time.Duration

	// RecoveryTimeout is how long an open circuit waits before admitting a
	// half-open probe.
	RecoveryTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns a CircuitBreakerConfig with reasonable defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker tracks failures per task type and short-circuits handler
// invocation when a type is failing persistently, protecting worker
// capacity from a systematically broken downstream dependency.
//
// State is process-local and in-memory: in a multi-process deployment each
// dispatcher tracks its own view of each type's health.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	types  map[string]*breakerEntry

	// now is swappable for tests.
	now func() time.Time
}

// breakerEntry is the per-task-type breaker state.
type breakerEntry struct {
	state        BreakerState
	failureCount int
	windowStart  time.Time
	openedAt     time.Time

	// probing is set while a half-open probe is in flight so that only one
	// execution tests the circuit at a time.
	probing bool
}

// NewCircuitBreaker creates a CircuitBreaker with the given configuration,
// falling back to defaults for unset values.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = defaults.FailureWindow
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}

	return &CircuitBreaker{
		config: config,
		types:  make(map[string]*breakerEntry),
		now:    time.Now,
	}
}

// Allow reports whether an execution of the given task type may invoke its
// handler now. An open circuit transitions to half-open once the recovery
// timeout has elapsed, admitting exactly one probe.
func (b *CircuitBreaker) Allow(taskType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entry(taskType)

	switch entry.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if b.now().Sub(entry.openedAt) < b.config.RecoveryTimeout {
			return false
		}
		entry.state = BreakerHalfOpen
		entry.probing = true
		return true

	case BreakerHalfOpen:
		if entry.probing {
			return false
		}
		entry.probing = true
		return true
	}

	return true
}

// RecordSuccess reports a successful execution of the task type. A success
// closes a half-open circuit and resets the failure count.
func (b *CircuitBreaker) RecordSuccess(taskType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entry(taskType)
	entry.state = BreakerClosed
	entry.failureCount = 0
	entry.probing = false
}

// RecordFailure reports a failed execution of the task type. A failure
// re-opens a half-open circuit immediately; in the closed state it opens
// the circuit once the threshold is exceeded within the rolling window.
func (b *CircuitBreaker) RecordFailure(taskType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	entry := b.entry(taskType)

	if entry.state == BreakerHalfOpen {
		entry.state = BreakerOpen
		entry.openedAt = now
		entry.probing = false
		return
	}

	// Restart the window when the previous one has expired.
	if entry.failureCount == 0 || now.Sub(entry.windowStart) > b.config.FailureWindow {
		entry.windowStart = now
		entry.failureCount = 0
	}

	entry.failureCount++
	if entry.state == BreakerClosed && entry.failureCount >= b.config.FailureThreshold {
		entry.state = BreakerOpen
		entry.openedAt = now
	}
}

// State returns the current state of the task type's circuit.
func (b *CircuitBreaker) State(taskType string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry(taskType).state
}

// RetryDelay is the backoff applied to tasks short-circuited by an open
// circuit: they become eligible again once a recovery probe could run.
func (b *CircuitBreaker) RetryDelay() time.Duration {
	return b.config.RecoveryTimeout
}

// entry returns the breaker entry for the task type, creating it closed.
// Callers must hold b.mu.
func (b *CircuitBreaker) entry(taskType string) *breakerEntry {
	entry, ok := b.types[taskType]
	if !ok {
		entry = &breakerEntry{state: BreakerClosed}
		b.types[taskType] = entry
	}
	return entry
}
