package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient_credits")
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrAccountDisabled    = errors.New("account_disabled")
	ErrStorageUnavailable = errors.New("storage_unavailable")
	ErrStorageFailure     = errors.New("storage_failure")
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidKind        = errors.New("invalid_kind")
	ErrInvalidIdempotency = errors.New("invalid_idempotency_key")
	ErrInvalidPeriod      = errors.New("invalid_period")
)

// InsufficientFundsError carries the amounts behind an ErrInsufficientFunds
// rejection so callers can tell the user how much is missing.
type InsufficientFundsError struct {
	AccountID string
	Balance   Credits
	Required  Credits
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: balance %s, required %s", ErrInsufficientFunds, e.Balance, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall is the amount the account is missing to cover the debit.
func (e *InsufficientFundsError) Shortfall() Credits {
	if e.Required <= e.Balance {
		return 0
	}
	return e.Required - e.Balance
}

// IsRetryable reports whether err is a transient storage failure that may
// succeed when retried with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// WrapStorage tags a raw storage error. Transient failures become
// ErrStorageUnavailable and may be retried; anything else is ErrStorageFailure.
func WrapStorage(err error, transient bool) error {
	if err == nil {
		return nil
	}
	if transient {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}
