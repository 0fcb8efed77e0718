package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calehall/taskwell/internal/store"
)

// maxInfraBackoff caps how far the poll cadence degrades while the store is
// unreachable.
const maxInfraBackoff = 30 * time.Second

// DispatcherConfig holds configuration for the dispatcher and its executors.
type DispatcherConfig struct {
	// BatchSize bounds how many eligible tasks one poll cycle fetches.
	BatchSize int

	// PollInterval is the pause between poll cycles.
	PollInterval time.Duration

	// TaskTimeout is the hard deadline for a single handler invocation.
	TaskTimeout time.Duration

	// MaxConcurrentTasks bounds how many executions run at once.
	MaxConcurrentTasks int

	// StuckTaskAge defines how long a task can sit in the running state
	// before the sweep considers it orphaned by a crashed worker.
	StuckTaskAge time.Duration

	// StuckTaskSweepInterval defines how often to sweep for stuck tasks.
	// If zero, defaults to one minute.
	StuckTaskSweepInterval time.Duration

	Retry   RetryPolicyConfig
	Breaker CircuitBreakerConfig
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:              50,
		PollInterval:           time.Second,
		TaskTimeout:            60 * time.Second,
		MaxConcurrentTasks:     10,
		StuckTaskAge:           5 * time.Minute,
		StuckTaskSweepInterval: time.Minute,
		Retry:                  DefaultRetryPolicyConfig(),
		Breaker:                DefaultCircuitBreakerConfig(),
	}
}

// Dispatcher is the engine's poll loop. Each cycle fetches one batch of
// eligible tasks in priority order, starts one executor per task gated by
// the concurrency limiter, and waits for the whole batch to settle before
// fetching again. Task-level failures never escape their executor; store
// fetch failures degrade the poll cadence instead of halting the loop.
//
// The retry policy, circuit breaker, and limiter are owned fields so that
// multiple dispatcher instances (for example in tests) do not interfere.
type Dispatcher struct {
	taskStore store.TaskStore
	registry  *Registry
	retry     *RetryPolicy
	breaker   *CircuitBreaker
	limiter   *Limiter
	config    DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given store and registry,
// applying defaults for unset config values.
func NewDispatcher(
	taskStore store.TaskStore,
	registry *Registry,
	config DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaults.TaskTimeout
	}
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.StuckTaskSweepInterval <= 0 {
		config.StuckTaskSweepInterval = defaults.StuckTaskSweepInterval
	}

	return &Dispatcher{
		taskStore: taskStore,
		registry:  registry,
		retry:     NewRetryPolicy(config.Retry),
		breaker:   NewCircuitBreaker(config.Breaker),
		limiter:   NewLimiter(config.MaxConcurrentTasks),
		config:    config,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Breaker exposes the dispatcher's circuit breaker for observability tooling.
func (d *Dispatcher) Breaker() *CircuitBreaker {
	return d.breaker
}

// Run executes the poll loop until ctx is cancelled. In-flight executions
// from the current batch are drained before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting",
		"batch_size", d.config.BatchSize,
		"poll_interval", d.config.PollInterval,
		"max_concurrent_tasks", d.config.MaxConcurrentTasks)

	backoff := d.config.PollInterval
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		default:
		}

		tasks, err := d.taskStore.ClaimBatch(ctx, d.config.BatchSize, time.Now().UTC())
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("dispatcher stopping")
				return nil
			}

			// Infrastructure error: not attributable to any task. Degrade
			// the poll cadence and retry the fetch.
			d.logger.Warn("failed to fetch task batch, backing off",
				"error", err,
				"backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxInfraBackoff)
			continue
		}
		backoff = d.config.PollInterval

		if len(tasks) > 0 {
			d.logger.Debug("fetched task batch", "count", len(tasks))

			var wg sync.WaitGroup
			for _, t := range tasks {
				t := t
				wg.Add(1)
				go func() {
					defer wg.Done()
					d.execute(ctx, t)
				}()
			}
			wg.Wait()
		}

		if time.Since(lastSweep) >= d.config.StuckTaskSweepInterval {
			d.sweepStuck(ctx)
			lastSweep = time.Now()
		}

		if !sleepCtx(ctx, d.config.PollInterval) {
			d.logger.Info("dispatcher stopping")
			return nil
		}
	}
}

// sweepStuck resets tasks orphaned in the running state by a crashed
// worker, making them eligible for re-dispatch.
func (d *Dispatcher) sweepStuck(ctx context.Context) {
	released, err := d.taskStore.ReleaseStuck(
		ctx,
		d.config.StuckTaskAge,
		"reset after being stuck in running state",
	)
	if err != nil {
		d.logger.Warn("failed to sweep stuck tasks", "error", err)
		return
	}
	if released > 0 {
		d.logger.Info("released stuck tasks", "count", released)
	}
}

// sleepCtx pauses for the duration, returning false when ctx was cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
