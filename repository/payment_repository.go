package repository

import (
	"context"
	"time"

	"github.com/causehive/donation-service/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReconcileInput is the verified gateway outcome for one reference.
type ReconcileInput struct {
	Reference     string
	Target        string
	GatewayStatus string
	FailureReason string
	Payload       datatypes.JSON
	At            time.Time
}

type PaymentRepository interface {
	FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindByDonationID(ctx context.Context, donationID uuid.UUID) (*models.PaymentTransaction, error)
	Reconcile(ctx context.Context, in ReconcileInput) (*models.ReconcileResult, error)
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) PaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) FindByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", reference).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByDonationID returns the newest payment whose primary donation is donationID.
func (r *GormPaymentRepository) FindByDonationID(ctx context.Context, donationID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("donation_id = ?", donationID).Order("transaction_date DESC").First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// Reconcile applies a verified outcome under a row lock on the payment.
// Pending donations linked to the payment follow the payment status; a
// donation already in the target state is left alone, so repeated calls
// converge without side effects.
func (r *GormPaymentRepository) Reconcile(ctx context.Context, in ReconcileInput) (*models.ReconcileResult, error) {
	var result models.ReconcileResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := lockPaymentByReference(tx, in.Reference)
		if err != nil {
			return err
		}

		result.Payment = payment
		result.PreviousStatus = payment.Status

		transition := models.ResolvePaymentTransition(payment.Status, in.Target)
		result.Conflict = transition.Conflict
		if !transition.Apply {
			return nil
		}

		updates := map[string]interface{}{
			"status":         in.Target,
			"gateway_status": in.GatewayStatus,
			"failure_reason": in.FailureReason,
			"updated_at":     in.At,
		}
		if len(in.Payload) > 0 {
			updates["gateway_payload"] = in.Payload
		}
		if in.Target == models.PaymentStatusCompleted {
			updates["completed_at"] = in.At
		}
		if err := tx.Model(&models.PaymentTransaction{}).
			Where("id = ?", payment.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		donationStatus := models.DonationStatusFailed
		if in.Target == models.PaymentStatusCompleted {
			donationStatus = models.DonationStatusCompleted
			if err := tx.Where("payment_id = ? AND status <> ?", payment.ID, models.DonationStatusCompleted).
				Find(&result.CompletedDonations).Error; err != nil {
				return err
			}
		}

		donationUpdates := map[string]interface{}{
			"status":         donationStatus,
			"failure_reason": in.FailureReason,
			"updated_at":     in.At,
		}
		if err := tx.Model(&models.Donation{}).
			Where("payment_id = ? AND status <> ?", payment.ID, donationStatus).
			Updates(donationUpdates).Error; err != nil {
			return err
		}

		payment.Status = in.Target
		payment.GatewayStatus = in.GatewayStatus
		payment.FailureReason = in.FailureReason
		payment.UpdatedAt = in.At
		if in.Target == models.PaymentStatusCompleted {
			at := in.At
			payment.CompletedAt = &at
		}
		for i := range result.CompletedDonations {
			result.CompletedDonations[i].Status = models.DonationStatusCompleted
			result.CompletedDonations[i].FailureReason = ""
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
