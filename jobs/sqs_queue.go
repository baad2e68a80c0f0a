package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"go.uber.org/zap"
)

type sqsTransport interface {
	SendMessage(ctx context.Context, body string, delay time.Duration) error
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// SQSQueue carries jobs as SQS message bodies. Delays beyond the SQS limit
// are capped; handlers that re-enqueue keep waiting in 15 minute steps.
type SQSQueue struct {
	transport sqsTransport
	logger    *zap.Logger
}

func NewSQSQueue(consumer *aws_pkg.SQSConsumer, logger *zap.Logger) *SQSQueue {
	return newSQSQueue(consumer, logger)
}

func newSQSQueue(transport sqsTransport, logger *zap.Logger) *SQSQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSQueue{transport: transport, logger: logger}
}

func (q *SQSQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.transport.SendMessage(ctx, string(body), delay)
}

// Consume decodes each message and hands it to handler. Undecodable bodies
// are acknowledged and dropped.
func (q *SQSQueue) Consume(ctx context.Context, handler Handler) error {
	return q.transport.StartPolling(ctx, func(ctx context.Context, body string) error {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			q.logger.Error("Dropping undecodable job", zap.Error(err), zap.String("payload", body))
			return nil
		}
		return handler(ctx, job)
	})
}
