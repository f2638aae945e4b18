package domain

import "errors"

// Domain errors
var (
	ErrInvalidCustomerID     = errors.New("invalid customer ID")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidCurrency       = errors.New("invalid currency code")
	ErrCurrencyMismatch      = errors.New("currency mismatch")
	ErrInsufficientAmount    = errors.New("insufficient amount")
	ErrInvalidTransactionRef = errors.New("invalid provider transaction reference")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrAlreadyAllocated      = errors.New("payment already allocated")
	ErrAlreadyReversed       = errors.New("payment already reversed")
	ErrPaymentReversed       = errors.New("payment is reversed")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrDebtNotFound          = errors.New("debt not found")
	ErrInstallmentNotFound   = errors.New("installment not found")
	ErrConcurrencyConflict   = errors.New("concurrent modification conflict")
	ErrNoAllocationTarget    = errors.New("no installments to allocate against")
	ErrMixedDebtTargets      = errors.New("target installments belong to different debts")
)
