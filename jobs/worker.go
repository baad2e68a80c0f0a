package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"go.uber.org/zap"
)

// Worker dispatches jobs from a Queue to the handler registered for their type.
type Worker struct {
	queue    Queue
	handlers map[string]Handler
	metrics  aws_pkg.MetricsRecorder
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewWorker(queue Queue, metrics aws_pkg.MetricsRecorder, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[string]Handler),
		metrics:  metrics,
		logger:   logger,
	}
}

func (w *Worker) Register(jobType string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Handle runs one job. Jobs of an unknown type are logged and acknowledged.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()
	if !ok {
		w.logger.Warn("No handler for job type", zap.String("type", job.Type), zap.String("job_id", job.ID))
		return nil
	}

	start := time.Now()
	err := handler(ctx, job)
	dims := map[string]string{"JobType": job.Type}
	if err != nil {
		w.record(ctx, aws_pkg.MetricJobsFailed, dims)
		return fmt.Errorf("job %s (%s): %w", job.ID, job.Type, err)
	}
	w.record(ctx, aws_pkg.MetricJobsProcessed, dims)
	w.logger.Info("Job processed",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// RunPeriodic calls fn every interval until ctx is cancelled.
func (w *Worker) RunPeriodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				w.logger.Error("Periodic task failed", zap.String("task", name), zap.Error(err))
			}
		}
	}
}

func (w *Worker) record(ctx context.Context, metric string, dims map[string]string) {
	if w.metrics == nil {
		return
	}
	if err := w.metrics.RecordCount(ctx, metric, dims); err != nil {
		w.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}
