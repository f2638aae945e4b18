package domain

import (
	"context"
	"time"
)

type PaymentRepository interface {
	// Create persists a new payment. Returns ErrDuplicateTransaction when a
	// non-failed payment with the same provider transaction reference exists.
	Create(ctx context.Context, payment *Payment) error
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByProviderTxnID(ctx context.Context, providerTxnID string) (*Payment, error)
	ListByCustomerID(ctx context.Context, customerID string, limit, offset int) ([]*Payment, error)
	CountByCustomerID(ctx context.Context, customerID string) (int64, error)
}

type DebtRepository interface {
	// Create persists a debt together with its installment schedule atomically.
	Create(ctx context.Context, debt *Debt, installments []*Installment) error
	FindByID(ctx context.Context, id string) (*Debt, error)
	ListInstallments(ctx context.Context, debtID string, filter InstallmentFilter) ([]*Installment, error)
	// InstallmentsByIDs resolves installments without locking; used to find
	// the owning debt before entering its unit of work.
	InstallmentsByIDs(ctx context.Context, ids []string) ([]*Installment, error)
}

type AllocationRepository interface {
	ListByPaymentID(ctx context.Context, paymentID string) ([]*PaymentAllocation, error)
	ListActiveByPaymentID(ctx context.Context, paymentID string) ([]*PaymentAllocation, error)
}

// InstallmentFilter narrows installment listings. Zero value means no filter.
type InstallmentFilter struct {
	Statuses        []InstallmentStatus
	OutstandingOnly bool
}

// TxStore is the view of the store inside one unit of work. Every read sees
// the transaction's snapshot and every write is discarded unless the whole
// unit commits. PaymentByID locks the payment row, so it doubles as the
// serialization point for operations on the same payment across different
// debt locks.
type TxStore interface {
	Debt(ctx context.Context, debtID string) (*Debt, error)
	PaymentByID(ctx context.Context, id string) (*Payment, error)
	Installments(ctx context.Context, debtID string) ([]*Installment, error)
	InstallmentsByIDs(ctx context.Context, ids []string) ([]*Installment, error)
	ActiveAllocations(ctx context.Context, paymentID string) ([]*PaymentAllocation, error)
	InsertAllocations(ctx context.Context, allocations []*PaymentAllocation) error
	MarkAllocationsReversed(ctx context.Context, paymentID, reason string, at time.Time) error
	UpdateInstallments(ctx context.Context, installments []*Installment) error
	UpdateDebt(ctx context.Context, debt *Debt) error
	UpdatePayment(ctx context.Context, payment *Payment) error
}

// TxCoordinator runs fn inside an atomic unit of work. WithDebtLock holds
// the debt's exclusive lock: allocation and reversal of a debt never
// interleave, while debts never contend with each other. WithPaymentLock
// holds only the payment row, for units that touch no debt state. Lock
// order is always debt before payment. Any error from fn rolls every
// mutation back; exhausted serialization retries surface as
// ErrConcurrencyConflict.
type TxCoordinator interface {
	WithDebtLock(ctx context.Context, debtID string, fn func(ctx context.Context, store TxStore) error) error
	WithPaymentLock(ctx context.Context, paymentID string, fn func(ctx context.Context, store TxStore) error) error
}
