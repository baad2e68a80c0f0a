package repository

import (
	"context"
	"time"

	"github.com/causehive/donation-service/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Withdrawal statuses that draw down a cause balance.
var reservingStatuses = []string{models.WithdrawalStatusProcessing, models.WithdrawalStatusCompleted}

var withdrawalOrderings = map[string]string{
	"requested_at":  "requested_at ASC",
	"-requested_at": "requested_at DESC",
	"amount":        "amount ASC",
	"-amount":       "amount DESC",
}

type WithdrawalRepository interface {
	CreateWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error
	RetryWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	FindReusableRecipient(ctx context.Context, userID uuid.UUID, method, fingerprint string) (string, error)
	UpdateFrom(ctx context.Context, w *models.WithdrawalRequest, expectedStatus string) error
	ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.WithdrawalRequest, int64, error)
	List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error)
	Statistics(ctx context.Context) (*models.WithdrawalStatistics, error)
	UserStatistics(ctx context.Context, userID uuid.UUID) (*models.UserWithdrawalStatistics, error)
}

type GormWithdrawalRepository struct {
	db *gorm.DB
}

func NewGormWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &GormWithdrawalRepository{db: db}
}

// CreateWithBalanceCheck inserts w only when its amount fits in what is left
// of causeBalance after every reserving withdrawal of the cause. A per-cause
// advisory lock serializes concurrent requests.
func (r *GormWithdrawalRepository) CreateWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkAvailable(tx, w.CauseID, w.Amount, causeBalance); err != nil {
			return err
		}
		w.Status = models.WithdrawalStatusProcessing
		w.Attempts = 1
		return tx.Create(w).Error
	})
}

// RetryWithBalanceCheck moves a failed request back to processing once the
// balance still covers it.
func (r *GormWithdrawalRepository) RetryWithBalanceCheck(ctx context.Context, w *models.WithdrawalRequest, causeBalance decimal.Decimal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkAvailable(tx, w.CauseID, w.Amount, causeBalance); err != nil {
			return err
		}

		res := tx.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", w.ID, models.WithdrawalStatusFailed).
			Updates(map[string]interface{}{
				"status":         models.WithdrawalStatusProcessing,
				"failure_reason": "",
				"transaction_id": "",
				"completed_at":   nil,
				"attempts":       gorm.Expr("attempts + 1"),
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}

		w.ResetForRetry()
		w.Attempts++
		return nil
	})
}

func checkAvailable(tx *gorm.DB, causeID uuid.UUID, amount, causeBalance decimal.Decimal) error {
	if err := advisoryLock(tx, "withdrawal:cause:"+causeID.String()); err != nil {
		return err
	}

	var reserved decimal.Decimal
	if err := tx.Model(&models.WithdrawalRequest{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("cause_id = ? AND status IN ?", causeID, reservingStatuses).
		Row().
		Scan(&reserved); err != nil {
		return err
	}

	available := causeBalance.Sub(reserved)
	if amount.GreaterThan(available) {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return &InsufficientBalanceError{Requested: amount, Available: available}
	}
	return nil
}

func (r *GormWithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// FindReusableRecipient returns the most recent recipient code created for
// the same destination, or "" when none exists.
func (r *GormWithdrawalRepository) FindReusableRecipient(ctx context.Context, userID uuid.UUID, method, fingerprint string) (string, error) {
	var codes []string
	err := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("user_id = ? AND payment_method = ? AND recipient_fingerprint = ? AND recipient_code <> ''", userID, method, fingerprint).
		Order("requested_at DESC").
		Limit(1).
		Pluck("recipient_code", &codes).Error
	if err != nil || len(codes) == 0 {
		return "", err
	}
	return codes[0], nil
}

// UpdateFrom persists the mutable fields of w only if the stored status is
// still expectedStatus.
func (r *GormWithdrawalRepository) UpdateFrom(ctx context.Context, w *models.WithdrawalRequest, expectedStatus string) error {
	res := r.db.WithContext(ctx).
		Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ?", w.ID, expectedStatus).
		Updates(map[string]interface{}{
			"status":                w.Status,
			"recipient_code":        w.RecipientCode,
			"recipient_fingerprint": w.RecipientFingerprint,
			"transaction_id":        w.TransactionID,
			"failure_reason":        w.FailureReason,
			"completed_at":          w.CompletedAt,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *GormWithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.WithdrawalRequest, int64, error) {
	var list []models.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WithdrawalRequest{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("requested_at DESC").Offset(offset).Limit(limit).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *GormWithdrawalRepository) List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error) {
	var list []models.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.WithdrawalRequest{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PaymentMethod != "" {
		query = query.Where("payment_method = ?", filter.PaymentMethod)
	}
	if filter.CauseID != nil {
		query = query.Where("cause_id = ?", *filter.CauseID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("transaction_id ILIKE ? OR recipient_code ILIKE ?", like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, ok := withdrawalOrderings[filter.Ordering]
	if !ok {
		order = withdrawalOrderings["-requested_at"]
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := query.Order(order).Offset(offset).Limit(filter.Limit).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *GormWithdrawalRepository) Statistics(ctx context.Context) (*models.WithdrawalStatistics, error) {
	rows, err := r.statusCounts(r.db.WithContext(ctx).Model(&models.WithdrawalRequest{}))
	if err != nil {
		return nil, err
	}
	return BuildWithdrawalStatistics(rows), nil
}

func (r *GormWithdrawalRepository) UserStatistics(ctx context.Context, userID uuid.UUID) (*models.UserWithdrawalStatistics, error) {
	rows, err := r.statusCounts(r.db.WithContext(ctx).Model(&models.WithdrawalRequest{}).Where("user_id = ?", userID))
	if err != nil {
		return nil, err
	}
	all := BuildWithdrawalStatistics(rows)
	return &models.UserWithdrawalStatistics{
		TotalWithdrawals:     all.TotalWithdrawals,
		TotalAmount:          all.TotalAmount,
		CompletedWithdrawals: all.CompletedWithdrawals,
	}, nil
}

func (r *GormWithdrawalRepository) statusCounts(query *gorm.DB) ([]models.WithdrawalStatusCount, error) {
	var rows []models.WithdrawalStatusCount
	err := query.
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("status").
		Scan(&rows).Error
	return rows, err
}

// BuildWithdrawalStatistics folds per-status aggregates into the summary.
// success_rate is a percentage of all requests.
func BuildWithdrawalStatistics(rows []models.WithdrawalStatusCount) *models.WithdrawalStatistics {
	stats := &models.WithdrawalStatistics{
		TotalAmount:   decimal.Zero,
		AverageAmount: decimal.Zero,
	}
	for _, row := range rows {
		stats.TotalWithdrawals += row.Count
		stats.TotalAmount = stats.TotalAmount.Add(row.Total)
		switch row.Status {
		case models.WithdrawalStatusCompleted:
			stats.CompletedWithdrawals += row.Count
		case models.WithdrawalStatusFailed:
			stats.FailedWithdrawals += row.Count
		case models.WithdrawalStatusProcessing:
			stats.ProcessingWithdrawals += row.Count
		}
	}
	if stats.TotalWithdrawals > 0 {
		n := decimal.NewFromInt(stats.TotalWithdrawals)
		stats.AverageAmount = stats.TotalAmount.Div(n).Round(2)
		rate, _ := decimal.NewFromInt(stats.CompletedWithdrawals).
			Mul(decimal.NewFromInt(100)).
			Div(n).
			Round(2).
			Float64()
		stats.SuccessRate = rate
	}
	return stats
}
