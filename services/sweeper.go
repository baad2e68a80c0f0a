package services

import (
	"context"
	"time"

	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/causehive/donation-service/repository"
	"go.uber.org/zap"
)

const OrphanFailureReason = "checkout abandoned before payment initialization"

// Sweeper fails pending donations whose checkout never attached a payment,
// which happens when the process dies between creating donations and
// recording the gateway charge.
type Sweeper struct {
	donations repository.DonationRepository
	age       time.Duration
	metrics   aws_pkg.MetricsRecorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(donations repository.DonationRepository, age time.Duration, metrics aws_pkg.MetricsRecorder, logger *zap.Logger) *Sweeper {
	if age <= 0 {
		age = 30 * time.Minute
	}
	return &Sweeper{donations: donations, age: age, metrics: metrics, logger: logger, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.age)
	n, err := s.donations.MarkOrphansFailed(ctx, cutoff, OrphanFailureReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Swept orphaned donations", zap.Int64("count", n), zap.Time("cutoff", cutoff))
		if s.metrics != nil {
			_ = s.metrics.RecordCount(ctx, aws_pkg.MetricOrphansSwept, nil)
		}
	}
	return n, nil
}

// Run matches the signature jobs.Worker.RunPeriodic expects.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
