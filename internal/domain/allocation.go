package domain

import (
	"fmt"
	"sort"
)

// AllocationOrder selects which outstanding installment a payment clears
// first when it under-covers the total due. Oldest-due-first is the waterfall
// convention and the default; sequence order is available for portfolios that
// schedule out of date order.
type AllocationOrder string

const (
	OrderOldestDueFirst AllocationOrder = "oldest_due_first"
	OrderBySequence     AllocationOrder = "sequence"
)

func ParseAllocationOrder(s string) (AllocationOrder, error) {
	switch AllocationOrder(s) {
	case "", OrderOldestDueFirst:
		return OrderOldestDueFirst, nil
	case OrderBySequence:
		return OrderBySequence, nil
	default:
		return "", fmt.Errorf("unknown allocation order %q", s)
	}
}

// SortForAllocation orders installments in the sequence the waterfall walks
// them. Oldest-due-first sorts by (dueDate asc, sequenceNo asc); sequence
// order sorts by sequenceNo alone. The sort is stable so equal keys keep
// their input order.
func SortForAllocation(installments []*Installment, order AllocationOrder) {
	switch order {
	case OrderBySequence:
		sort.SliceStable(installments, func(a, b int) bool {
			return installments[a].SequenceNo < installments[b].SequenceNo
		})
	default:
		sort.SliceStable(installments, func(a, b int) bool {
			if !installments[a].DueDate.Equal(installments[b].DueDate) {
				return installments[a].DueDate.Before(installments[b].DueDate)
			}
			return installments[a].SequenceNo < installments[b].SequenceNo
		})
	}
}

// AllocationPlan is the computed distribution of one payment across
// installments, before anything is mutated. Unapplied is whatever the walk
// could not place; it is tracked as credit, never dropped.
type AllocationPlan struct {
	PaymentID string
	Entries   []AllocationEntry
	Unapplied Money
}

// AllocationEntry pairs an installment with the amount the plan assigns it.
type AllocationEntry struct {
	Installment *Installment
	Amount      Money
}

// PlanAllocation walks the installments in allocation order, assigning
// min(remaining, amountDue) to each until the payment is exhausted or every
// installment is satisfied. Installments that are canceled or have nothing
// due are skipped. The plan does not mutate anything; Apply does.
func PlanAllocation(payment *Payment, installments []*Installment, order AllocationOrder) (*AllocationPlan, error) {
	if payment.IsReversed() {
		return nil, ErrPaymentReversed
	}

	candidates := make([]*Installment, 0, len(installments))
	for _, inst := range installments {
		if !inst.Outstanding() {
			continue
		}
		if inst.AmountDue.Currency != payment.Amount.Currency {
			return nil, fmt.Errorf("%w: installment %s is %s, payment is %s",
				ErrCurrencyMismatch, inst.ID, inst.AmountDue.Currency, payment.Amount.Currency)
		}
		candidates = append(candidates, inst)
	}
	SortForAllocation(candidates, order)

	plan := &AllocationPlan{
		PaymentID: payment.ID,
		Unapplied: payment.Amount,
	}

	for _, inst := range candidates {
		if plan.Unapplied.IsZero() {
			break
		}

		portion, err := plan.Unapplied.Min(inst.AmountDue)
		if err != nil {
			return nil, err
		}

		remaining, err := plan.Unapplied.Sub(portion)
		if err != nil {
			return nil, err
		}
		plan.Unapplied = remaining
		plan.Entries = append(plan.Entries, AllocationEntry{Installment: inst, Amount: portion})
	}

	return plan, nil
}

// Apply mutates the planned installments and returns the allocation records
// to persist alongside them. Callers run this inside the debt's exclusive
// unit of work so a failure rolls every mutation back.
func (p *AllocationPlan) Apply() ([]*PaymentAllocation, error) {
	records := make([]*PaymentAllocation, 0, len(p.Entries))
	for _, entry := range p.Entries {
		if err := entry.Installment.ApplyPayment(entry.Amount); err != nil {
			return nil, fmt.Errorf("allocating %s to installment %s: %w", entry.Amount, entry.Installment.ID, err)
		}
		records = append(records, NewPaymentAllocation(p.PaymentID, entry.Installment.ID, entry.Amount))
	}
	return records, nil
}

// Allocated returns the total the plan assigns, i.e. payment amount minus
// the unapplied remainder.
func (p *AllocationPlan) Allocated() (Money, error) {
	total := ZeroMoney(p.Unapplied.Currency)
	for _, entry := range p.Entries {
		sum, err := total.Add(entry.Amount)
		if err != nil {
			return Money{}, err
		}
		total = sum
	}
	return total, nil
}
