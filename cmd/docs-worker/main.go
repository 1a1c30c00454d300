// docs-worker runs inside a job container. It executes the documentation
// generator and reports progress and results to the jobs service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docjobs/internal/worker"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := worker.LoadConfigFromEnv()

	runner, err := worker.NewRunner(cfg)
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	err = runner.Run(ctx)
	if errors.Is(err, worker.ErrRejected) {
		// The job was canceled or settled elsewhere; nothing left to report.
		slog.Info("Worker stopped", "jobId", cfg.JobID, "reason", err)
		return nil
	}
	return err
}
