package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Installment is one line of a debt's repayment schedule. The remainder
// invariant amountPaid + amountDue == originalAmount holds at all times;
// only ApplyPayment and RevertPayment may move money between the two sides.
type Installment struct {
	ID             string
	DebtID         string
	SequenceNo     int
	OriginalAmount Money
	AmountDue      Money
	AmountPaid     Money
	DueDate        time.Time
	Status         InstallmentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type InstallmentStatus string

const (
	InstallmentStatusDue           InstallmentStatus = "DUE"
	InstallmentStatusOverdue       InstallmentStatus = "OVERDUE"
	InstallmentStatusPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentStatusPaid          InstallmentStatus = "PAID"
	InstallmentStatusCanceled      InstallmentStatus = "CANCELED"
)

func NewInstallment(debtID string, sequenceNo int, amount Money, dueDate time.Time) (*Installment, error) {
	if debtID == "" {
		return nil, ErrDebtNotFound
	}
	if sequenceNo <= 0 {
		return nil, errors.New("installment sequence number must be positive")
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	inst := &Installment{
		ID:             uuid.New().String(),
		DebtID:         debtID,
		SequenceNo:     sequenceNo,
		OriginalAmount: amount,
		AmountDue:      amount,
		AmountPaid:     ZeroMoney(amount.Currency),
		DueDate:        dueDate,
		CreatedAt:      now,
	}
	inst.RefreshStatus(now)
	return inst, nil
}

// ApplyPayment moves amount from the due side to the paid side. Fails if the
// amount exceeds what is still due, which would break the no-negative rule.
func (i *Installment) ApplyPayment(amount Money) error {
	if i.Status == InstallmentStatusCanceled {
		return fmt.Errorf("installment %s is canceled", i.ID)
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	due, err := i.AmountDue.Sub(amount)
	if err != nil {
		return err
	}
	paid, err := i.AmountPaid.Add(amount)
	if err != nil {
		return err
	}

	i.AmountDue = due
	i.AmountPaid = paid
	i.RefreshStatus(time.Now().UTC())
	return nil
}

// RevertPayment is the exact inverse of ApplyPayment.
func (i *Installment) RevertPayment(amount Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	paid, err := i.AmountPaid.Sub(amount)
	if err != nil {
		return err
	}
	due, err := i.AmountDue.Add(amount)
	if err != nil {
		return err
	}

	i.AmountPaid = paid
	i.AmountDue = due
	i.RefreshStatus(time.Now().UTC())
	return nil
}

// RefreshStatus derives the status from the due/paid split. CANCELED is
// sticky; everything else is a pure function of the amounts and the clock.
func (i *Installment) RefreshStatus(now time.Time) {
	if i.Status == InstallmentStatusCanceled {
		return
	}

	switch {
	case i.AmountDue.IsZero():
		i.Status = InstallmentStatusPaid
	case i.AmountPaid.IsPositive():
		i.Status = InstallmentStatusPartiallyPaid
	case i.DueDate.Before(now):
		i.Status = InstallmentStatusOverdue
	default:
		i.Status = InstallmentStatusDue
	}
}

// Outstanding reports whether the installment can still receive allocations.
func (i *Installment) Outstanding() bool {
	return i.Status != InstallmentStatusCanceled && i.AmountDue.IsPositive()
}
