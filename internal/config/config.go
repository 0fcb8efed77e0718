package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Logger   LoggerConfig   `mapstructure:"logger"   validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// LoggerConfig contains logging configuration settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// WorkerConfig contains the task engine's scheduling and failure-handling
// settings. The defaults follow the documented intent of the original
// system; all values are overridable via config file or environment.
type WorkerConfig struct {
	// MaxConcurrentTasks bounds how many task executions may run at once.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" validate:"required,gt=0"`

	// BatchSize bounds how many eligible tasks one poll cycle fetches.
	BatchSize int `mapstructure:"batch_size" validate:"required,gt=0"`

	// PollInterval is the pause between dispatcher poll cycles.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`

	// TaskTimeout is the hard deadline for a single handler invocation.
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"required,gt=0"`

	// StuckTaskAge is how long a task may sit in the running state before
	// the sweep treats it as orphaned by a crashed worker and resets it.
	StuckTaskAge time.Duration `mapstructure:"stuck_task_age" validate:"required,gt=0"`

	Retry   RetryConfig   `mapstructure:"retry"   validate:"required"`
	Breaker BreakerConfig `mapstructure:"breaker" validate:"required"`
}

// RetryConfig contains the exponential backoff settings of the retry policy.
type RetryConfig struct {
	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it.
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"required,gt=0"`

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"required,gt=0"`

	// Jitter is the fraction of the delay randomized in both directions,
	// e.g. 0.25 yields delays in [0.75d, 1.25d].
	Jitter float64 `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// BreakerConfig contains the per-task-type circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is how many failures within FailureWindow open the
	// circuit for a task type.
	FailureThreshold int `mapstructure:"failure_threshold" validate:"required,gt=0"`

	// FailureWindow is the rolling window over which failures are counted.
	FailureWindow time.Duration `mapstructure:"failure_window" validate:"required,gt=0"`

	// RecoveryTimeout is how long an open circuit waits before allowing a
	// half-open probe.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" validate:"required,gt=0"`
}
