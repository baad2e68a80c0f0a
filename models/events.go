package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published to SNS.
const (
	EventDonationCompleted   = "donation.completed"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.failed"
)

// DonationCompletedEvent is consumed by the cause service to increment
// current_amount. Consumers must dedupe on DonationID.
type DonationCompletedEvent struct {
	EventType  string          `json:"event_type"`
	DonationID uuid.UUID       `json:"donation_id"`
	CauseID    uuid.UUID       `json:"cause_id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Timestamp  time.Time       `json:"timestamp"`
}

// WithdrawalEvent is published when a withdrawal reaches a terminal state.
type WithdrawalEvent struct {
	EventType     string          `json:"event_type"`
	WithdrawalID  uuid.UUID       `json:"withdrawal_id"`
	CauseID       uuid.UUID       `json:"cause_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewDonationCompletedEvent(d Donation, at time.Time) DonationCompletedEvent {
	return DonationCompletedEvent{
		EventType:  EventDonationCompleted,
		DonationID: d.ID,
		CauseID:    d.CauseID,
		UserID:     d.UserID,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Timestamp:  at.UTC(),
	}
}

func NewWithdrawalEvent(w *WithdrawalRequest, at time.Time) WithdrawalEvent {
	eventType := EventWithdrawalFailed
	if w.Status == WithdrawalStatusCompleted {
		eventType = EventWithdrawalCompleted
	}
	return WithdrawalEvent{
		EventType:     eventType,
		WithdrawalID:  w.ID,
		CauseID:       w.CauseID,
		UserID:        w.UserID,
		Amount:        w.Amount,
		Currency:      w.Currency,
		TransactionID: w.TransactionID,
		FailureReason: w.FailureReason,
		Timestamp:     at.UTC(),
	}
}
