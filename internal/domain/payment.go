package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment records that money arrived, independent of whether it has been
// applied to installments yet. ProviderTxnID is the webhook idempotency key:
// unique across non-failed payments. Amount and currency are immutable after
// creation; the only legal transition is RECEIVED -> REVERSED.
type Payment struct {
	ID            string
	CustomerID    string
	DebtID        *string // nil when the payment is not tied to a single debt
	Amount        Money
	Method        string
	ProviderTxnID string
	Status        PaymentStatus
	ReceivedAt    time.Time
	CreatedAt     time.Time
}

type PaymentStatus string

const (
	PaymentStatusReceived PaymentStatus = "RECEIVED"
	PaymentStatusReversed PaymentStatus = "REVERSED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

func NewPayment(customerID string, debtID *string, amount Money, method, providerTxnID string, receivedAt time.Time) (*Payment, error) {
	if customerID == "" {
		return nil, ErrInvalidCustomerID
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !validCurrency(amount.Currency) {
		return nil, ErrInvalidCurrency
	}
	if providerTxnID == "" {
		return nil, ErrInvalidTransactionRef
	}
	if debtID != nil && *debtID == "" {
		return nil, ErrDebtNotFound
	}

	return &Payment{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		DebtID:        debtID,
		Amount:        amount,
		Method:        method,
		ProviderTxnID: providerTxnID,
		Status:        PaymentStatusReceived,
		ReceivedAt:    receivedAt,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (p *Payment) IsReversed() bool {
	return p.Status == PaymentStatusReversed
}

// MarkReversed transitions the payment to REVERSED exactly once.
func (p *Payment) MarkReversed() error {
	if p.Status == PaymentStatusReversed {
		return ErrAlreadyReversed
	}
	p.Status = PaymentStatusReversed
	return nil
}

// PaymentAllocation assigns part of a payment's amount to one installment.
// Allocations are immutable; a reversal flips the Reversed flag and keeps the
// row for audit, excluding it from all active sums.
type PaymentAllocation struct {
	ID             string
	PaymentID      string
	InstallmentID  string
	Amount         Money
	Reversed       bool
	ReversalReason string
	CreatedAt      time.Time
	ReversedAt     *time.Time
}

func NewPaymentAllocation(paymentID, installmentID string, amount Money) *PaymentAllocation {
	return &PaymentAllocation{
		ID:            uuid.New().String(),
		PaymentID:     paymentID,
		InstallmentID: installmentID,
		Amount:        amount,
		CreatedAt:     time.Now().UTC(),
	}
}
