package repository

import (
	"context"
	"time"

	"github.com/causehive/donation-service/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DonationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Donation, int64, error)
	MarkOrphansFailed(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

type GormDonationRepository struct {
	db *gorm.DB
}

func NewGormDonationRepository(db *gorm.DB) DonationRepository {
	return &GormDonationRepository{db: db}
}

func (r *GormDonationRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&donation).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

// ListByUser returns one page of the user's donations, newest first, and the total count.
func (r *GormDonationRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Donation, int64, error) {
	var donations []models.Donation
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Donation{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("donated_at DESC").Offset(offset).Limit(limit).Find(&donations).Error; err != nil {
		return nil, 0, err
	}
	return donations, total, nil
}

// MarkOrphansFailed fails pending donations that never got a payment
// attached and were created before olderThan.
func (r *GormDonationRepository) MarkOrphansFailed(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("status = ? AND payment_id IS NULL AND donated_at < ?", models.DonationStatusPending, olderThan).
		Updates(map[string]interface{}{
			"status":         models.DonationStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	return res.RowsAffected, res.Error
}
