package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/causehive/donation-service/jobs"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/repository"
	"go.uber.org/zap"
)

// DonationEventTTL bounds how long a published donation.completed is remembered.
const DonationEventTTL = 7 * 24 * time.Hour

func DonationEventKey(donationID string) string {
	return "events:" + models.EventDonationCompleted + ":" + donationID
}

// EventTransport delivers one serialized event to a topic. Both the SNS
// client and the Kafka producer satisfy it.
type EventTransport interface {
	Publish(ctx context.Context, topic string, message []byte) error
}

// EventPublisher sends domain events to the configured transport.
type EventPublisher interface {
	PublishDonationCompleted(ctx context.Context, event models.DonationCompletedEvent) error
	PublishWithdrawalEvent(ctx context.Context, event models.WithdrawalEvent) error
}

type eventPublisher struct {
	transport       EventTransport
	donationTopic   string
	withdrawalTopic string
	dedupe          repository.KeyValueStore
	logger          *zap.Logger
}

func NewEventPublisher(
	transport EventTransport,
	donationTopic, withdrawalTopic string,
	dedupe repository.KeyValueStore,
	logger *zap.Logger,
) EventPublisher {
	return &eventPublisher{
		transport:       transport,
		donationTopic:   donationTopic,
		withdrawalTopic: withdrawalTopic,
		dedupe:          dedupe,
		logger:          logger,
	}
}

// PublishDonationCompleted publishes at most once per donation id while the
// dedupe key lives. A failed publish releases the key so a retry can send it.
func (p *eventPublisher) PublishDonationCompleted(ctx context.Context, event models.DonationCompletedEvent) error {
	if p.transport == nil || p.donationTopic == "" {
		p.logger.Warn("Event transport not configured, skipping publish", zap.String("event_type", event.EventType))
		return nil
	}

	key := DonationEventKey(event.DonationID.String())
	if p.dedupe != nil {
		first, err := p.dedupe.MarkOnce(ctx, key, DonationEventTTL)
		if err != nil {
			return fmt.Errorf("dedupe donation event: %w", err)
		}
		if !first {
			p.logger.Info("Donation event already published", zap.String("donation_id", event.DonationID.String()))
			return nil
		}
	}

	if err := p.publish(ctx, p.donationTopic, event); err != nil {
		if p.dedupe != nil {
			if uerr := p.dedupe.UnmarkOnce(ctx, key); uerr != nil {
				p.logger.Warn("Failed to release event dedupe key", zap.String("key", key), zap.Error(uerr))
			}
		}
		return err
	}
	return nil
}

func (p *eventPublisher) PublishWithdrawalEvent(ctx context.Context, event models.WithdrawalEvent) error {
	if p.transport == nil || p.withdrawalTopic == "" {
		p.logger.Warn("Event transport not configured, skipping publish", zap.String("event_type", event.EventType))
		return nil
	}
	return p.publish(ctx, p.withdrawalTopic, event)
}

func (p *eventPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.transport.Publish(ctx, topic, b); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	p.logger.Info("Published event", zap.String("topic", topic))
	return nil
}

// DonationCompletedHandler is the worker side of the donation.completed job.
// Undecodable payloads are dropped.
func DonationCompletedHandler(publisher EventPublisher, logger *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		var event models.DonationCompletedEvent
		if err := job.Decode(&event); err != nil {
			logger.Error("Dropping donation event job", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return publisher.PublishDonationCompleted(ctx, event)
	}
}
