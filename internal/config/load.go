package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default values applied when neither the config file nor the environment
// provides a setting.
const (
	defaultLogLevel           = "info"
	defaultMaxConcurrentTasks = 10
	defaultBatchSize          = 50
	defaultPollInterval       = "1s"
	defaultTaskTimeout        = "60s"
	defaultStuckTaskAge       = "5m"
	defaultRetryBaseDelay     = "1s"
	defaultRetryMaxDelay      = "5m"
	defaultRetryJitter        = 0.25
	defaultFailureThreshold   = 5
	defaultFailureWindow      = "60s"
	defaultRecoveryTimeout    = "30s"
)

// Load reads configuration from an optional taskwell.yaml file in the
// working directory and from environment variables with the TASKWELL_
// prefix. Environment variables take precedence over file values.
// Returns a populated Config struct or an error if loading or validation
// fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("taskwell")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TASKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment may carry
		// everything. Any other read error is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every setting so that a
// minimal environment (just the database URL) produces a runnable config.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", defaultLogLevel)

	v.SetDefault("worker.max_concurrent_tasks", defaultMaxConcurrentTasks)
	v.SetDefault("worker.batch_size", defaultBatchSize)
	v.SetDefault("worker.poll_interval", defaultPollInterval)
	v.SetDefault("worker.task_timeout", defaultTaskTimeout)
	v.SetDefault("worker.stuck_task_age", defaultStuckTaskAge)

	v.SetDefault("worker.retry.base_delay", defaultRetryBaseDelay)
	v.SetDefault("worker.retry.max_delay", defaultRetryMaxDelay)
	v.SetDefault("worker.retry.jitter", defaultRetryJitter)

	v.SetDefault("worker.breaker.failure_threshold", defaultFailureThreshold)
	v.SetDefault("worker.breaker.failure_window", defaultFailureWindow)
	v.SetDefault("worker.breaker.recovery_timeout", defaultRecoveryTimeout)
}
