// Package main implements the entry point for the taskwell worker,
// which polls the task store for eligible background tasks and runs
// them through the registered handlers.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/calehall/taskwell/internal/config"
	"github.com/calehall/taskwell/internal/platform/logger"
)

// main is the entry point for the taskwell worker.
// It loads configuration, sets up logging, connects to the database,
// runs migrations, wires the engine, and runs the dispatcher until a
// termination signal arrives.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Worker exited with error: %v", err)
	}
}

// initializeApp loads configuration, sets up logging, and assembles the
// application. Returns the assembled application and any initialization
// error.
func initializeApp(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Logger.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("worker configuration loaded",
		"log_level", cfg.Logger.Level,
		"max_concurrent_tasks", cfg.Worker.MaxConcurrentTasks,
		"batch_size", cfg.Worker.BatchSize,
		"poll_interval", cfg.Worker.PollInterval)

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	return app, nil
}
