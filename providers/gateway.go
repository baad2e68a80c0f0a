package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentGateway defines the operations every payment processor integration
// must implement. Implementations are stateless.
type PaymentGateway interface {
	// InitializeCharge creates a hosted checkout for amount and returns the redirect URL.
	InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeInitialization, error)

	// VerifyCharge returns the gateway's authoritative view of a charge.
	VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error)

	// CreateRecipient registers a payout destination.
	CreateRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error)

	// InitiateTransfer pays amount out to a registered recipient.
	InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)

	// VerifyTransfer returns the gateway's authoritative view of a transfer.
	VerifyTransfer(ctx context.Context, reference string) (*TransferVerification, error)
}

type ChargeRequest struct {
	Email    string
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

type ChargeInitialization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	Currency         string
}

type ChargeVerification struct {
	Reference       string
	Status          string
	GatewayResponse string
	Amount          decimal.Decimal
	Currency        string
	Raw             json.RawMessage
}

type RecipientRequest struct {
	Type          string
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

type Recipient struct {
	RecipientCode string
	Type          string
	Name          string
}

type TransferRequest struct {
	Amount        decimal.Decimal
	Currency      string
	RecipientCode string
	Reason        string
}

type Transfer struct {
	Reference    string
	TransferCode string
	Status       string
}

// Transfer statuses reported by the gateway.
const (
	TransferStatusSuccess  = "success"
	TransferStatusFailed   = "failed"
	TransferStatusReversed = "reversed"
)

type TransferVerification struct {
	Reference     string
	TransferCode  string
	Status        string
	FailureReason string
	Raw           json.RawMessage
}

// GatewayError is returned for every failed gateway call. Rejected is true
// when the gateway answered and refused the request (status=false); it is
// false for transport failures, timeouts and 5xx responses.
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Rejected   bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("paystack %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("paystack %s: %s", e.Operation, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a gateway refusal rather than an outage.
func IsRejection(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Rejected
}

var (
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	ErrAmountPrecision   = errors.New("amount must have at most two decimal places")
)

// ToSubunits converts a major-unit amount to integer subunits (pesewas, kobo),
// rounding half away from zero at two decimal places. Callers validate with
// ValidateAmount first so no rounding happens in practice.
func ToSubunits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// ValidateAmount accepts only amounts that are a whole, positive number of
// subunits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return ErrAmountPrecision
	}
	if ToSubunits(amount) <= 0 {
		return ErrAmountNotPositive
	}
	return nil
}

// FromSubunits is the inverse of ToSubunits.
func FromSubunits(subunits int64) decimal.Decimal {
	return decimal.New(subunits, -2)
}
