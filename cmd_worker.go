package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerSkipSweep bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the job queue",
	Long: `Consume verify_transfer_status and donation.completed jobs until
SIGINT/SIGTERM. The orphaned-donation sweep runs every $SWEEP_INTERVAL
unless --no-sweep is given.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerSkipSweep, "no-sweep", false, "do not run the periodic orphaned-donation sweep")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, "worker")
	if err != nil {
		return err
	}
	logger := rt.logger
	defer logger.Sync() //nolint:errcheck

	s, err := rt.buildStack(ctx)
	if err != nil {
		logger.Error("Failed to initialise dependencies", zap.Error(err))
		return err
	}
	defer s.Close()

	worker := rt.newWorker(s)
	if !workerSkipSweep {
		go worker.RunPeriodic(ctx, "orphan-sweep", rt.cfg.SweepInterval, s.sweeper.Run)
	}

	logger.Info("Worker started", zap.String("backend", rt.cfg.JobQueueBackend))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", zap.Error(err))
		return err
	}
	logger.Info("Worker exited cleanly")
	return nil
}
