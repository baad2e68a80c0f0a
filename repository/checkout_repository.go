package repository

import (
	"context"
	"time"

	"github.com/causehive/donation-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckoutRepository owns the multi-table writes of a cart checkout. The
// gateway call happens between CreateCheckoutDonations and AttachPayment, so
// no transaction is held across network I/O.
type CheckoutRepository interface {
	CreateCheckoutDonations(ctx context.Context, cartID uuid.UUID, snapshot []models.CartItem, donations []models.Donation) ([]models.Donation, error)
	AttachPayment(ctx context.Context, cartID *uuid.UUID, payment *models.PaymentTransaction, donationIDs []uuid.UUID) error
	FailCheckout(ctx context.Context, donationIDs []uuid.UUID, reason string) error
}

type GormCheckoutRepository struct {
	db *gorm.DB
}

func NewGormCheckoutRepository(db *gorm.DB) CheckoutRepository {
	return &GormCheckoutRepository{db: db}
}

// CreateCheckoutDonations locks the cart, verifies it is still active and
// that its items match snapshot, then inserts the pending donations.
func (r *GormCheckoutRepository) CreateCheckoutDonations(ctx context.Context, cartID uuid.UUID, snapshot []models.CartItem, donations []models.Donation) ([]models.Donation, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActiveCart(tx, cartID); err != nil {
			return err
		}

		var current []models.CartItem
		if err := tx.Where("cart_id = ?", cartID).Find(&current).Error; err != nil {
			return err
		}
		if !sameItems(snapshot, current) {
			return ErrCartChanged
		}

		for i := range donations {
			if err := tx.Create(&donations[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return donations, nil
}

// AttachPayment records the payment transaction, links every donation to
// it, stamps the gateway reference on the primary donation and completes
// the cart. A nil cartID skips the cart update.
func (r *GormCheckoutRepository) AttachPayment(ctx context.Context, cartID *uuid.UUID, payment *models.PaymentTransaction, donationIDs []uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		now := time.Now()
		if len(donationIDs) > 0 {
			if err := tx.Model(&models.Donation{}).
				Where("id IN ?", donationIDs).
				Updates(map[string]interface{}{"payment_id": payment.ID, "updated_at": now}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Donation{}).
			Where("id = ?", payment.DonationID).
			Updates(map[string]interface{}{"transaction_id": payment.TransactionID, "updated_at": now}).Error; err != nil {
			return err
		}

		if cartID == nil {
			return nil
		}
		return tx.Model(&models.Cart{}).
			Where("id = ?", *cartID).
			Updates(map[string]interface{}{"status": models.CartStatusCompleted, "updated_at": now}).Error
	})
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

// FailCheckout marks still-pending donations failed after a charge could not
// be initialized. The cart is left active.
func (r *GormCheckoutRepository) FailCheckout(ctx context.Context, donationIDs []uuid.UUID, reason string) error {
	if len(donationIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id IN ? AND status = ?", donationIDs, models.DonationStatusPending).
		Updates(map[string]interface{}{
			"status":         models.DonationStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		}).Error
}

func sameItems(snapshot, current []models.CartItem) bool {
	if len(snapshot) != len(current) {
		return false
	}
	index := make(map[uuid.UUID]models.CartItem, len(current))
	for _, item := range current {
		index[item.ID] = item
	}
	for _, want := range snapshot {
		got, ok := index[want.ID]
		if !ok || got.Quantity != want.Quantity || !got.DonationAmount.Equal(want.DonationAmount) {
			return false
		}
	}
	return true
}

// lockPaymentByReference is shared with the payment repository.
func lockPaymentByReference(tx *gorm.DB, reference string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", reference).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
