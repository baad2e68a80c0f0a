package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WithdrawalRequest statuses. Processing is initial; failed can go back to
// processing through an administrator retry.
const (
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
)

// Payout methods.
const (
	PaymentMethodBankTransfer     = "bank_transfer"
	PaymentMethodMobileMoney      = "mobile_money"
	PaymentMethodPaystackTransfer = "paystack_transfer"
)

func IsValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodBankTransfer, PaymentMethodMobileMoney, PaymentMethodPaystackTransfer:
		return true
	}
	return false
}

// WithdrawalRequest is an organizer payout drawn from a cause balance.
type WithdrawalRequest struct {
	ID                   uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID               uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	CauseID              uuid.UUID       `gorm:"type:uuid;not null;index" json:"cause_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null;default:'GHS'" json:"currency"`
	Status               string          `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	PaymentMethod        string          `gorm:"type:varchar(30);not null" json:"payment_method"`
	PaymentDetails       datatypes.JSON  `gorm:"type:jsonb" json:"payment_details"`
	RecipientCode        string          `gorm:"type:varchar(100);index" json:"recipient_code,omitempty"`
	RecipientFingerprint string          `gorm:"type:varchar(64);index" json:"-"`
	TransactionID        string          `gorm:"type:varchar(255);index" json:"transaction_id,omitempty"`
	FailureReason        string          `gorm:"type:text" json:"failure_reason,omitempty"`
	Attempts             int             `gorm:"not null;default:0" json:"attempts"`
	RequestedAt          time.Time       `gorm:"autoCreateTime;index" json:"requested_at"`
	CompletedAt          *time.Time      `json:"completed_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w *WithdrawalRequest) IsTerminal() bool {
	return w.Status == WithdrawalStatusCompleted || w.Status == WithdrawalStatusFailed
}

// MarkAsCompleted is a terminal transition; it records the gateway reference.
func (w *WithdrawalRequest) MarkAsCompleted(transactionID string, at time.Time) {
	w.Status = WithdrawalStatusCompleted
	if transactionID != "" {
		w.TransactionID = transactionID
	}
	w.FailureReason = ""
	w.CompletedAt = &at
}

// MarkAsFailed is a terminal transition.
func (w *WithdrawalRequest) MarkAsFailed(reason string, at time.Time) {
	w.Status = WithdrawalStatusFailed
	w.FailureReason = reason
	w.CompletedAt = &at
}

// ResetForRetry puts a failed request back into processing.
func (w *WithdrawalRequest) ResetForRetry() {
	w.Status = WithdrawalStatusProcessing
	w.FailureReason = ""
	w.TransactionID = ""
	w.CompletedAt = nil
}

// Details decodes payment_details into a flat string map. Non-string JSON
// values are rendered with their default formatting.
func (w *WithdrawalRequest) Details() (map[string]string, error) {
	out := map[string]string{}
	if len(w.PaymentDetails) == 0 {
		return out, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(w.PaymentDetails, &raw); err != nil {
		return nil, fmt.Errorf("decode payment details: %w", err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// CreateWithdrawalRequest is the payload for POST /withdrawals/.
type CreateWithdrawalRequest struct {
	CauseID        uuid.UUID              `json:"cause_id" binding:"required"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	PaymentMethod  string                 `json:"payment_method"`
	PaymentDetails map[string]interface{} `json:"payment_details"`
}

// WithdrawalFilter drives the administrator listing.
type WithdrawalFilter struct {
	Status        string
	PaymentMethod string
	CauseID       *uuid.UUID
	UserID        *uuid.UUID
	Search        string
	Ordering      string
	Page          int
	Limit         int
}

// WithdrawalStatistics is the administrator summary.
type WithdrawalStatistics struct {
	TotalWithdrawals      int64           `json:"total_withdrawals"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	CompletedWithdrawals  int64           `json:"completed_withdrawals"`
	FailedWithdrawals     int64           `json:"failed_withdrawals"`
	ProcessingWithdrawals int64           `json:"processing_withdrawals"`
	AverageAmount         decimal.Decimal `json:"average_amount"`
	SuccessRate           float64         `json:"success_rate"`
}

// UserWithdrawalStatistics is the per-organizer summary.
type UserWithdrawalStatistics struct {
	TotalWithdrawals     int64           `json:"total_withdrawals"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	CompletedWithdrawals int64           `json:"completed_withdrawals"`
}

// WithdrawalStatusCount is one row of a GROUP BY status aggregate.
type WithdrawalStatusCount struct {
	Status string
	Count  int64
	Total  decimal.Decimal
}
