package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job types.
const (
	TypeVerifyTransferStatus = "verify_transfer_status"
	TypeDonationCompleted    = "donation.completed"
)

// Job is the envelope placed on a queue. Delivery is at-least-once, so every
// handler must tolerate seeing the same job twice.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type VerifyTransferPayload struct {
	WithdrawalID  uuid.UUID `json:"withdrawal_id"`
	TransactionID string    `json:"transaction_id"`
}

// NewJob marshals payload into a first-attempt job.
func NewJob(jobType string, payload interface{}) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Next returns a copy of j for the following attempt.
func (j Job) Next() Job {
	next := j
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	return next
}

func (j Job) Decode(out interface{}) error {
	if err := json.Unmarshal(j.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Enqueuer is what request handlers need to hand work to the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// Handler processes one job. An error asks the queue to deliver it again.
type Handler func(ctx context.Context, job Job) error

// Queue is a job backend.
type Queue interface {
	Enqueuer
	// Consume blocks, dispatching jobs to handler until ctx is done.
	Consume(ctx context.Context, handler Handler) error
}
