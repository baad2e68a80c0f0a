package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Donation statuses. Pending is the only non-terminal state.
const (
	DonationStatusPending   = "pending"
	DonationStatusCompleted = "completed"
	DonationStatusFailed    = "failed"
)

const DefaultCurrency = "GHS"

// Donation is one monetary pledge created at checkout.
//
// PaymentID groups every donation settled by the same gateway charge;
// TransactionID is only set on the donation the PaymentTransaction points at.
type Donation struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID        *uuid.UUID      `gorm:"type:uuid;index" json:"user_id"`
	CauseID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"cause_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'GHS'" json:"currency"`
	Status        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RecipientID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"recipient_id"`
	TransactionID *string         `gorm:"type:varchar(255);uniqueIndex" json:"transaction_id"`
	PaymentID     *uuid.UUID      `gorm:"type:uuid;index" json:"payment_id"`
	FailureReason string          `gorm:"type:text" json:"failure_reason,omitempty"`
	DonatedAt     time.Time       `gorm:"autoCreateTime;index" json:"donated_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *Donation) IsTerminal() bool {
	return d.Status == DonationStatusCompleted || d.Status == DonationStatusFailed
}
