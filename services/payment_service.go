package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/causehive/donation-service/jobs"
	"github.com/causehive/donation-service/models"
	aws_pkg "github.com/causehive/donation-service/pkg/aws"
	"github.com/causehive/donation-service/providers"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// PaymentService initializes single-donation charges and reconciles charge
// outcomes reported by the gateway.
type PaymentService interface {
	InitiatePayment(ctx context.Context, caller Caller, req models.InitiatePaymentRequest) (*models.CheckoutResponse, *ServiceError)
	Verify(ctx context.Context, reference string) (*models.ReconcileResult, *ServiceError)
	HandleWebhook(ctx context.Context, event models.PaystackWebhookEvent) (*models.ReconcileResult, *ServiceError)
	GetPayment(ctx context.Context, caller Caller, id uuid.UUID) (*models.PaymentTransaction, *ServiceError)
}

type paymentServiceImpl struct {
	payments  repository.PaymentRepository
	donations repository.DonationRepository
	checkout  repository.CheckoutRepository
	gateway   providers.PaymentGateway
	queue     jobs.Enqueuer
	publisher EventPublisher
	metrics   aws_pkg.MetricsRecorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewPaymentService(
	payments repository.PaymentRepository,
	donations repository.DonationRepository,
	checkout repository.CheckoutRepository,
	gateway providers.PaymentGateway,
	queue jobs.Enqueuer,
	publisher EventPublisher,
	metrics aws_pkg.MetricsRecorder,
	logger *zap.Logger,
) PaymentService {
	return &paymentServiceImpl{
		payments:  payments,
		donations: donations,
		checkout:  checkout,
		gateway:   gateway,
		queue:     queue,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// InitiatePayment charges an existing pending donation owned by the caller.
// A gateway failure leaves the donation pending so it can be retried.
func (s *paymentServiceImpl) InitiatePayment(ctx context.Context, caller Caller, req models.InitiatePaymentRequest) (*models.CheckoutResponse, *ServiceError) {
	donation, err := s.donations.FindByID(ctx, req.DonationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("Donation not found")
	}
	if err != nil {
		s.logger.Error("Failed to load donation", zap.Error(err))
		return nil, InternalError("Failed to load donation", err)
	}
	if !ownedBy(donation.UserID, caller) {
		return nil, NotFoundError("Donation not found")
	}
	if donation.IsTerminal() || donation.PaymentID != nil {
		return nil, ValidationError("Donation is not awaiting payment")
	}
	if svcErr := checkAmount("Donation amount", donation.Amount); svcErr != nil {
		return nil, svcErr
	}
	if req.Amount != nil && !req.Amount.Equal(donation.Amount) {
		return nil, ValidationError("amount does not match the donation amount")
	}

	existing, err := s.payments.FindByDonationID(ctx, donation.ID)
	switch {
	case err == nil:
		s.logger.Warn("Payment already recorded for donation",
			zap.String("donation_id", donation.ID.String()),
			zap.String("reference", existing.TransactionID),
			zap.String("status", existing.Status),
		)
		return nil, ConflictError("A payment already exists for this donation", nil)
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Error("Failed to look up donation payment", zap.Error(err))
		return nil, InternalError("Failed to load payment", err)
	}

	charge, err := s.gateway.InitializeCharge(ctx, providers.ChargeRequest{
		Email:    req.Email,
		Amount:   donation.Amount,
		Currency: donation.Currency,
		Metadata: map[string]string{"donation_id": donation.ID.String()},
	})
	if err != nil {
		s.logger.Warn("Charge initialization failed", zap.String("donation_id", donation.ID.String()), zap.Error(err))
		return nil, chargeError(err)
	}

	payment := &models.PaymentTransaction{
		DonationID:       donation.ID,
		UserID:           donation.UserID,
		Email:            req.Email,
		Amount:           donation.Amount,
		Currency:         donation.Currency,
		TransactionID:    charge.Reference,
		Status:           models.PaymentStatusPending,
		PaymentMethod:    models.PaymentMethodPaystack,
		AuthorizationURL: charge.AuthorizationURL,
	}
	if err := s.checkout.AttachPayment(ctx, nil, payment, []uuid.UUID{donation.ID}); err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			return nil, ConflictError("A payment already exists for this donation", err)
		}
		s.logger.Error("Failed to record payment", zap.Error(err))
		return nil, InternalError("Failed to record payment", err)
	}

	s.logger.Info("Payment initiated",
		zap.String("donation_id", donation.ID.String()),
		zap.String("reference", charge.Reference),
	)
	return &models.CheckoutResponse{
		AuthorizationURL: charge.AuthorizationURL,
		Reference:        charge.Reference,
		TotalAmount:      donation.Amount.StringFixed(2),
		PaymentID:        payment.ID,
	}, nil
}

func (s *paymentServiceImpl) Verify(ctx context.Context, reference string) (*models.ReconcileResult, *ServiceError) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ValidationError("reference is required")
	}
	return s.reconcile(ctx, reference, "verify")
}

// HandleWebhook reconciles the referenced charge. Replays of a settled
// charge are no-ops.
func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, event models.PaystackWebhookEvent) (*models.ReconcileResult, *ServiceError) {
	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		return nil, MalformedWebhookError("Webhook payload is missing data.reference")
	}
	return s.reconcile(ctx, reference, "webhook:"+event.Event)
}

func (s *paymentServiceImpl) GetPayment(ctx context.Context, caller Caller, id uuid.UUID) (*models.PaymentTransaction, *ServiceError) {
	payment, err := s.payments.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFoundError("Payment not found")
	}
	if err != nil {
		s.logger.Error("Failed to load payment", zap.Error(err))
		return nil, InternalError("Failed to load payment", err)
	}
	if !ownedBy(payment.UserID, caller) {
		return nil, NotFoundError("Payment not found")
	}
	return payment, nil
}

// reconcile asks the gateway for the charge status and applies it. The
// gateway answer is the only source of truth; no row lock is held while
// waiting for it.
func (s *paymentServiceImpl) reconcile(ctx context.Context, reference, source string) (*models.ReconcileResult, *ServiceError) {
	stored, err := s.payments.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TransactionNotFoundError(reference)
		}
		s.logger.Error("Failed to load payment", zap.Error(err))
		return nil, InternalError("Failed to load payment", err)
	}
	if stored.IsTerminal() {
		s.logger.Debug("Re-verifying settled payment",
			zap.String("reference", reference),
			zap.String("source", source),
			zap.String("status", stored.Status),
		)
	}

	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		s.logger.Warn("Charge verification failed", zap.String("reference", reference), zap.Error(err))
		return nil, UpstreamServiceError("Payment verification failed: "+gatewayMessage(err), err)
	}

	target := models.PaymentOutcome(verification.Status)
	if target == models.PaymentStatusCompleted && !chargeMatches(stored, verification) {
		s.logger.Error("Gateway captured a different amount than was charged",
			zap.String("reference", reference),
			zap.String("source", source),
			zap.String("expected_amount", stored.Amount.StringFixed(2)),
			zap.String("expected_currency", stored.Currency),
			zap.String("reported_amount", verification.Amount.StringFixed(2)),
			zap.String("reported_currency", verification.Currency),
		)
		s.record(ctx, aws_pkg.MetricGatewayConflicts)
		return &models.ReconcileResult{Payment: stored, PreviousStatus: stored.Status, Conflict: true}, nil
	}
	reason := ""
	if target == models.PaymentStatusFailed {
		reason = verification.GatewayResponse
		if reason == "" {
			reason = verification.Status
		}
	}

	result, err := s.payments.Reconcile(ctx, repository.ReconcileInput{
		Reference:     reference,
		Target:        target,
		GatewayStatus: verification.Status,
		FailureReason: reason,
		Payload:       datatypes.JSON(verification.Raw),
		At:            s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TransactionNotFoundError(reference)
		}
		s.logger.Error("Failed to reconcile payment", zap.String("reference", reference), zap.Error(err))
		return nil, InternalError("Failed to reconcile payment", err)
	}

	if result.Conflict {
		s.logger.Error("Gateway reported a conflicting terminal state",
			zap.String("reference", reference),
			zap.String("source", source),
			zap.String("stored_status", result.PreviousStatus),
			zap.String("reported_status", target),
			zap.Bool("applied", result.Changed),
		)
		s.record(ctx, aws_pkg.MetricGatewayConflicts)
	}

	if result.Changed {
		if target == models.PaymentStatusCompleted {
			s.record(ctx, aws_pkg.MetricPaymentSucceeded)
		} else {
			s.record(ctx, aws_pkg.MetricPaymentFailed)
		}
		s.logger.Info("Payment reconciled",
			zap.String("reference", reference),
			zap.String("source", source),
			zap.String("from", result.PreviousStatus),
			zap.String("to", target),
		)
	}

	for _, d := range result.CompletedDonations {
		s.dispatchDonationCompleted(ctx, d)
	}
	return result, nil
}

// chargeMatches reports whether the captured charge covers exactly what the
// payment asked for. A blank gateway currency is taken as the payment's.
func chargeMatches(p *models.PaymentTransaction, v *providers.ChargeVerification) bool {
	if !v.Amount.Equal(p.Amount) {
		return false
	}
	return v.Currency == "" || strings.EqualFold(v.Currency, p.Currency)
}

// dispatchDonationCompleted queues the event; when the queue is unavailable
// it publishes inline so the cause balance is not left behind.
func (s *paymentServiceImpl) dispatchDonationCompleted(ctx context.Context, d models.Donation) {
	event := models.NewDonationCompletedEvent(d, s.now())

	if s.queue != nil {
		job, err := jobs.NewJob(jobs.TypeDonationCompleted, event)
		if err == nil {
			if err = s.queue.Enqueue(ctx, job, 0); err == nil {
				return
			}
		}
		s.logger.Warn("Failed to enqueue donation event, publishing inline",
			zap.String("donation_id", d.ID.String()),
			zap.Error(err),
		)
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDonationCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish donation event",
			zap.String("donation_id", d.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *paymentServiceImpl) record(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(ctx, metric, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}
