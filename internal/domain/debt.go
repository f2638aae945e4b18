package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Debt is the aggregate root the ledger serializes on. Its CurrentBalance is
// derived from the installments and is only ever written by Recompute.
type Debt struct {
	ID             string
	CustomerID     string
	OriginalAmount Money
	CurrentBalance Money
	Status         DebtStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DebtStatus string

const (
	DebtStatusOpen         DebtStatus = "OPEN"
	DebtStatusInCollection DebtStatus = "IN_COLLECTION"
	DebtStatusSettled      DebtStatus = "SETTLED"
	DebtStatusWrittenOff   DebtStatus = "WRITTEN_OFF"
	DebtStatusDisputed     DebtStatus = "DISPUTED"
)

// NewDebt registers a debt with its installment schedule. The debt's original
// amount is the sum of the installment amounts; all installments must share
// the debt currency.
func NewDebt(customerID, currency string, schedule []InstallmentSpec) (*Debt, []*Installment, error) {
	if customerID == "" {
		return nil, nil, ErrInvalidCustomerID
	}
	if !validCurrency(currency) {
		return nil, nil, ErrInvalidCurrency
	}
	if len(schedule) == 0 {
		return nil, nil, errors.New("debt requires at least one installment")
	}

	now := time.Now().UTC()
	debt := &Debt{
		ID:             uuid.New().String(),
		CustomerID:     customerID,
		OriginalAmount: ZeroMoney(currency),
		CurrentBalance: ZeroMoney(currency),
		Status:         DebtStatusOpen,
		CreatedAt:      now,
	}

	installments := make([]*Installment, 0, len(schedule))
	for _, spec := range schedule {
		inst, err := NewInstallment(debt.ID, spec.SequenceNo, spec.Amount, spec.DueDate)
		if err != nil {
			return nil, nil, err
		}

		total, err := debt.OriginalAmount.Add(spec.Amount)
		if err != nil {
			return nil, nil, err
		}
		debt.OriginalAmount = total
		installments = append(installments, inst)
	}

	if err := debt.Recompute(installments); err != nil {
		return nil, nil, err
	}
	return debt, installments, nil
}

// InstallmentSpec describes one line of a debt's schedule at registration.
type InstallmentSpec struct {
	SequenceNo int
	Amount     Money
	DueDate    time.Time
}

// Recompute derives CurrentBalance as the sum of amountDue across the debt's
// installments (canceled ones excluded) and moves the status to SETTLED when
// the balance reaches zero. A reversal that reopens a settled debt moves it
// back to OPEN. WRITTEN_OFF and DISPUTED are operator-controlled and are
// never touched here.
func (d *Debt) Recompute(installments []*Installment) error {
	balance := ZeroMoney(d.CurrentBalance.Currency)
	if balance.Currency == "" {
		balance = ZeroMoney(d.OriginalAmount.Currency)
	}

	for _, inst := range installments {
		if inst.DebtID != d.ID {
			return ErrMixedDebtTargets
		}
		if inst.Status == InstallmentStatusCanceled {
			continue
		}
		sum, err := balance.Add(inst.AmountDue)
		if err != nil {
			return err
		}
		balance = sum
	}

	d.CurrentBalance = balance

	switch d.Status {
	case DebtStatusWrittenOff, DebtStatusDisputed:
		// operator states, not derived
	case DebtStatusSettled:
		if balance.IsPositive() {
			d.Status = DebtStatusOpen
		}
	default:
		if balance.IsZero() {
			d.Status = DebtStatusSettled
		}
	}
	return nil
}

func (d *Debt) IsSettled() bool {
	return d.Status == DebtStatusSettled
}
