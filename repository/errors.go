package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is gorm.ErrRecordNotFound, re-exported so callers need not import gorm.
	ErrNotFound = gorm.ErrRecordNotFound

	ErrCartNotActive       = errors.New("cart is not active")
	ErrCartChanged         = errors.New("cart changed during checkout")
	ErrDuplicateReference  = errors.New("payment reference already recorded")
	ErrStaleStatus         = errors.New("status changed concurrently")
	ErrInsufficientBalance = errors.New("insufficient cause balance")
)

// InsufficientBalanceError reports how much of the cause balance is still
// available for withdrawal.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("requested %s exceeds available balance %s", e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
