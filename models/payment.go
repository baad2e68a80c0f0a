package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentTransaction statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

const PaymentMethodPaystack = "paystack"

// GatewayStatusSuccess is the only charge status the gateway uses for a captured payment.
const GatewayStatusSuccess = "success"

// PaymentTransaction is the local record of one gateway charge.
type PaymentTransaction struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DonationID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"donation_id"`
	UserID           *uuid.UUID      `gorm:"type:uuid;index" json:"user_id"`
	Email            string          `gorm:"type:varchar(254)" json:"email"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'GHS'" json:"currency"`
	TransactionID    string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"transaction_id"`
	Status           string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod    string          `gorm:"type:varchar(50);not null;default:'paystack'" json:"payment_method"`
	AuthorizationURL string          `gorm:"type:varchar(1024)" json:"authorization_url,omitempty"`
	GatewayStatus    string          `gorm:"type:varchar(32)" json:"gateway_status,omitempty"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason,omitempty"`
	GatewayPayload   datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	TransactionDate  time.Time       `gorm:"autoCreateTime" json:"transaction_date"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PaymentTransaction) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}

// PaymentOutcome maps a gateway charge status onto the local terminal status.
func PaymentOutcome(gatewayStatus string) string {
	if gatewayStatus == GatewayStatusSuccess {
		return PaymentStatusCompleted
	}
	return PaymentStatusFailed
}

// Transition describes what reconciliation should do with a reported outcome.
// Conflict is set whenever a stored terminal state disagrees with the report.
type Transition struct {
	Apply    bool
	Conflict bool
}

// ResolvePaymentTransition decides how a stored status moves to target.
// A terminal transaction never goes back to pending, and a completed one is
// never downgraded; failed -> completed is applied because the gateway has
// captured the money.
func ResolvePaymentTransition(current, target string) Transition {
	switch {
	case current == target:
		return Transition{}
	case current == PaymentStatusPending:
		return Transition{Apply: true}
	case current == PaymentStatusFailed && target == PaymentStatusCompleted:
		return Transition{Apply: true, Conflict: true}
	default:
		return Transition{Conflict: true}
	}
}

// ReconcileResult reports what a reconciliation call did.
type ReconcileResult struct {
	Payment        *PaymentTransaction
	PreviousStatus string
	Changed        bool
	Conflict       bool
	// Donations moved to completed by this call; used to emit donation.completed.
	CompletedDonations []Donation
}

// InitiatePaymentRequest is the payload for POST /payments/initiate/.
// Amount is optional; when present it must match the donation amount.
type InitiatePaymentRequest struct {
	Email      string           `json:"email" binding:"required,email"`
	DonationID uuid.UUID        `json:"donation_id" binding:"required"`
	Amount     *decimal.Decimal `json:"amount"`
}

// PaystackWebhookEvent is the envelope the gateway posts to the webhook.
type PaystackWebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}
