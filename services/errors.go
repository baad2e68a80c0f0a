package services

import (
	"errors"
	"net/http"

	"github.com/causehive/donation-service/providers"
	"github.com/shopspring/decimal"
)

// ErrorKind classifies a ServiceError independently of its HTTP status.
type ErrorKind string

const (
	KindValidation               ErrorKind = "ValidationError"
	KindUpstreamService          ErrorKind = "UpstreamServiceError"
	KindPaymentInitiation        ErrorKind = "PaymentInitiationError"
	KindEmptyCart                ErrorKind = "EmptyCartError"
	KindTransactionNotFound      ErrorKind = "TransactionNotFoundError"
	KindMalformedWebhook         ErrorKind = "MalformedWebhookError"
	KindIncompletePaymentDetails ErrorKind = "IncompletePaymentDetailsError"
	KindNotFound                 ErrorKind = "NotFoundError"
	KindConflict                 ErrorKind = "ConflictError"
	KindInternal                 ErrorKind = "InternalError"
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// checkAmount rejects amounts the gateway cannot represent exactly.
func checkAmount(field string, amount decimal.Decimal) *ServiceError {
	err := providers.ValidateAmount(amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, providers.ErrAmountPrecision):
		return ValidationError(field + " must have at most two decimal places")
	default:
		return ValidationError(field + " must be greater than zero")
	}
}

func newError(kind ErrorKind, status int, msg string, err error) *ServiceError {
	return &ServiceError{Kind: kind, StatusCode: status, Message: msg, Err: err}
}

func ValidationError(msg string) *ServiceError {
	return newError(KindValidation, http.StatusBadRequest, msg, nil)
}

// UpstreamServiceError keeps the collaborator message visible to the caller.
func UpstreamServiceError(msg string, err error) *ServiceError {
	return newError(KindUpstreamService, http.StatusBadRequest, msg, err)
}

func PaymentInitiationError(msg string, err error) *ServiceError {
	return newError(KindPaymentInitiation, http.StatusBadRequest, msg, err)
}

func EmptyCartError() *ServiceError {
	return newError(KindEmptyCart, http.StatusBadRequest, "Cart is empty", nil)
}

func TransactionNotFoundError(reference string) *ServiceError {
	return newError(KindTransactionNotFound, http.StatusBadRequest, "Transaction not found: "+reference, nil)
}

func MalformedWebhookError(msg string) *ServiceError {
	return newError(KindMalformedWebhook, http.StatusBadRequest, msg, nil)
}

func IncompletePaymentDetailsError(msg string, err error) *ServiceError {
	return newError(KindIncompletePaymentDetails, http.StatusBadRequest, msg, err)
}

func NotFoundError(msg string) *ServiceError {
	return newError(KindNotFound, http.StatusNotFound, msg, nil)
}

func ConflictError(msg string, err error) *ServiceError {
	return newError(KindConflict, http.StatusConflict, msg, err)
}

func InternalError(msg string, err error) *ServiceError {
	return newError(KindInternal, http.StatusInternalServerError, msg, err)
}
