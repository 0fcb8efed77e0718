package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/calehall/taskwell/internal/config"
	"github.com/calehall/taskwell/internal/engine"
	"github.com/calehall/taskwell/internal/platform/postgres"
	"github.com/calehall/taskwell/internal/service"
)

// application holds the assembled worker: the database handle, the
// handler registry, the producer-facing task service, and the engine
// dispatcher.
type application struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	registry   *engine.Registry
	service    *service.TaskService
	dispatcher *engine.Dispatcher
}

// newApplication connects to the database, runs migrations, and wires
// the stores, service, and dispatcher together.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*application, error) {
	db, err := setupDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.MigrateUp(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	typeStore := postgres.NewPostgresTaskTypeStore(db)
	registry := engine.NewRegistry()
	taskService := service.NewTaskService(taskStore, typeStore, logger)

	dispatcher := engine.NewDispatcher(taskStore, registry, engine.DispatcherConfig{
		BatchSize:          cfg.Worker.BatchSize,
		PollInterval:       cfg.Worker.PollInterval,
		TaskTimeout:        cfg.Worker.TaskTimeout,
		MaxConcurrentTasks: cfg.Worker.MaxConcurrentTasks,
		StuckTaskAge:       cfg.Worker.StuckTaskAge,
		Retry: engine.RetryPolicyConfig{
			BaseDelay: cfg.Worker.Retry.BaseDelay,
			MaxDelay:  cfg.Worker.Retry.MaxDelay,
			Jitter:    cfg.Worker.Retry.Jitter,
		},
		Breaker: engine.CircuitBreakerConfig{
			FailureThreshold: cfg.Worker.Breaker.FailureThreshold,
			FailureWindow:    cfg.Worker.Breaker.FailureWindow,
			RecoveryTimeout:  cfg.Worker.Breaker.RecoveryTimeout,
		},
	}, logger)

	return &application{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		registry:   registry,
		service:    taskService,
		dispatcher: dispatcher,
	}, nil
}

// setupDatabase establishes a connection to the database and configures
// the connection pool. Returns the database connection if successful, or
// an error if the connection fails.
func setupDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}

// RegisterHandler binds a handler to a task type: the registry entry
// routes dispatched tasks to the handler, and the task_types row lets
// producers enqueue work of that type.
func (a *application) RegisterHandler(ctx context.Context, taskType string, handler engine.Handler) error {
	if err := a.service.RegisterTaskType(ctx, taskType); err != nil {
		return fmt.Errorf("failed to register task type %q: %w", taskType, err)
	}
	a.registry.Register(taskType, handler)
	return nil
}

// Run starts the dispatcher and blocks until the context is cancelled
// and the in-flight batch has drained.
func (a *application) Run(ctx context.Context) error {
	a.logger.Info("worker starting",
		"registered_types", a.registry.Types())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutdown signal received, draining in-flight tasks")
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	a.logger.Info("worker stopped")
	return nil
}

// Close releases the application's resources.
func (a *application) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database connection", "error", err)
		}
	}
}
