package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(t *testing.T, value string) Money {
	t.Helper()
	m, err := ParseMoney(value, "USD")
	require.NoError(t, err)
	return m
}

// newScheduledDebt builds a debt with one installment per amount, due one
// month apart starting at base, sequence numbers in input order.
func newScheduledDebt(t *testing.T, base time.Time, amounts ...string) (*Debt, []*Installment) {
	t.Helper()

	specs := make([]InstallmentSpec, len(amounts))
	for i, a := range amounts {
		specs[i] = InstallmentSpec{
			SequenceNo: i + 1,
			Amount:     usd(t, a),
			DueDate:    base.AddDate(0, i, 0),
		}
	}

	debt, installments, err := NewDebt("CUST-1", "USD", specs)
	require.NoError(t, err)
	return debt, installments
}

func newReceivedPayment(t *testing.T, debtID, amount string) *Payment {
	t.Helper()
	p, err := NewPayment("CUST-1", &debtID, usd(t, amount), "bank_transfer", "TXN-"+amount, time.Now())
	require.NoError(t, err)
	return p
}

func assertRemainderInvariant(t *testing.T, installments []*Installment) {
	t.Helper()
	for _, inst := range installments {
		total, err := inst.AmountPaid.Add(inst.AmountDue)
		require.NoError(t, err)
		assert.Equal(t, inst.OriginalAmount, total, "amountPaid + amountDue must equal originalAmount for %s", inst.ID)
		assert.GreaterOrEqual(t, inst.AmountDue.Amount, int64(0))
		assert.GreaterOrEqual(t, inst.AmountPaid.Amount, int64(0))
	}
}

func TestPlanAllocation_WaterfallUnderCoverage(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00", "50.00")
	payment := newReceivedPayment(t, debt.ID, "120.00")

	plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
	require.NoError(t, err)

	require.Len(t, plan.Entries, 2)
	assert.Equal(t, usd(t, "100.00"), plan.Entries[0].Amount)
	assert.Equal(t, usd(t, "20.00"), plan.Entries[1].Amount)
	assert.True(t, plan.Unapplied.IsZero())

	records, err := plan.Apply()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, InstallmentStatusPaid, installments[0].Status)
	assert.True(t, installments[0].AmountDue.IsZero())
	assert.Equal(t, InstallmentStatusPartiallyPaid, installments[1].Status)
	assert.Equal(t, usd(t, "30.00"), installments[1].AmountDue)

	assertRemainderInvariant(t, installments)

	require.NoError(t, debt.Recompute(installments))
	assert.Equal(t, usd(t, "30.00"), debt.CurrentBalance)
	assert.Equal(t, DebtStatusOpen, debt.Status)
}

func TestPlanAllocation_Conservation(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "40.00", "25.00", "35.00")

	for _, amount := range []string{"10.00", "65.00", "100.00", "150.00"} {
		payment := newReceivedPayment(t, debt.ID, amount)

		plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
		require.NoError(t, err)

		allocated, err := plan.Allocated()
		require.NoError(t, err)
		total, err := allocated.Add(plan.Unapplied)
		require.NoError(t, err)

		assert.Equal(t, payment.Amount, total, "allocated + unapplied must equal payment amount for %s", amount)
	}
}

func TestPlanAllocation_OverpaymentLeavesUnapplied(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00", "50.00")
	payment := newReceivedPayment(t, debt.ID, "200.00")

	plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
	require.NoError(t, err)

	assert.Equal(t, usd(t, "50.00"), plan.Unapplied)

	_, err = plan.Apply()
	require.NoError(t, err)

	require.NoError(t, debt.Recompute(installments))
	assert.True(t, debt.CurrentBalance.IsZero())
	assert.Equal(t, DebtStatusSettled, debt.Status)
}

func TestPlanAllocation_OrderPolicies(t *testing.T) {
	// Sequence 1 is due AFTER sequence 2: the two policies disagree on which
	// installment clears first.
	now := time.Now()
	outOfOrderSchedule := func(t *testing.T) (*Debt, []*Installment) {
		debt, installments, err := NewDebt("CUST-1", "USD", []InstallmentSpec{
			{SequenceNo: 1, Amount: usd(t, "80.00"), DueDate: now.AddDate(0, 2, 0)},
			{SequenceNo: 2, Amount: usd(t, "80.00"), DueDate: now.AddDate(0, 1, 0)},
		})
		require.NoError(t, err)
		return debt, installments
	}

	t.Run("oldest due first clears the earlier due date", func(t *testing.T) {
		debt, installments := outOfOrderSchedule(t)
		payment := newReceivedPayment(t, debt.ID, "80.00")

		plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
		require.NoError(t, err)
		require.Len(t, plan.Entries, 1)
		assert.Equal(t, 2, plan.Entries[0].Installment.SequenceNo)
	})

	t.Run("sequence order clears the lower sequence number", func(t *testing.T) {
		debt, installments := outOfOrderSchedule(t)
		payment := newReceivedPayment(t, debt.ID, "80.00")

		plan, err := PlanAllocation(payment, installments, OrderBySequence)
		require.NoError(t, err)
		require.Len(t, plan.Entries, 1)
		assert.Equal(t, 1, plan.Entries[0].Installment.SequenceNo)
	})
}

func TestPlanAllocation_SkipsCanceledAndSettled(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00", "50.00", "25.00")

	installments[0].Status = InstallmentStatusCanceled
	require.NoError(t, installments[1].ApplyPayment(usd(t, "50.00"))) // fully paid

	payment := newReceivedPayment(t, debt.ID, "30.00")
	plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
	require.NoError(t, err)

	require.Len(t, plan.Entries, 1)
	assert.Equal(t, installments[2].ID, plan.Entries[0].Installment.ID)
	assert.Equal(t, usd(t, "25.00"), plan.Entries[0].Amount)
	assert.Equal(t, usd(t, "5.00"), plan.Unapplied)
}

func TestPlanAllocation_ReversedPaymentRejected(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00")

	payment := newReceivedPayment(t, debt.ID, "50.00")
	require.NoError(t, payment.MarkReversed())

	_, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
	assert.ErrorIs(t, err, ErrPaymentReversed)
}

func TestPlanAllocation_CurrencyMismatch(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00")

	eur, err := ParseMoney("50.00", "EUR")
	require.NoError(t, err)
	payment, err := NewPayment("CUST-1", &debt.ID, eur, "card", "TXN-EUR", time.Now())
	require.NoError(t, err)

	_, err = PlanAllocation(payment, installments, OrderOldestDueFirst)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestReversalIsExactInverse(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "100.00", "50.00")
	payment := newReceivedPayment(t, debt.ID, "120.00")

	type snapshot struct {
		due, paid Money
		status    InstallmentStatus
	}
	before := make([]snapshot, len(installments))
	for i, inst := range installments {
		before[i] = snapshot{due: inst.AmountDue, paid: inst.AmountPaid, status: inst.Status}
	}
	balanceBefore := debt.CurrentBalance

	plan, err := PlanAllocation(payment, installments, OrderOldestDueFirst)
	require.NoError(t, err)
	records, err := plan.Apply()
	require.NoError(t, err)
	require.NoError(t, debt.Recompute(installments))

	// undo every allocation, exactly as reversal does
	byID := map[string]*Installment{}
	for _, inst := range installments {
		byID[inst.ID] = inst
	}
	for _, rec := range records {
		require.NoError(t, byID[rec.InstallmentID].RevertPayment(rec.Amount))
	}
	require.NoError(t, debt.Recompute(installments))

	for i, inst := range installments {
		assert.Equal(t, before[i].due, inst.AmountDue)
		assert.Equal(t, before[i].paid, inst.AmountPaid)
		assert.Equal(t, before[i].status, inst.Status)
	}
	assert.Equal(t, balanceBefore, debt.CurrentBalance)
	assert.Equal(t, usd(t, "150.00"), debt.CurrentBalance)
	assertRemainderInvariant(t, installments)
}

func TestDebtRecompute_SettleAndReopen(t *testing.T) {
	base := time.Now().AddDate(0, 1, 0)
	debt, installments := newScheduledDebt(t, base, "60.00")

	require.NoError(t, installments[0].ApplyPayment(usd(t, "60.00")))
	require.NoError(t, debt.Recompute(installments))
	assert.Equal(t, DebtStatusSettled, debt.Status)

	require.NoError(t, installments[0].RevertPayment(usd(t, "60.00")))
	require.NoError(t, debt.Recompute(installments))
	assert.Equal(t, DebtStatusOpen, debt.Status)
	assert.Equal(t, usd(t, "60.00"), debt.CurrentBalance)
}

func TestNewPayment_Validation(t *testing.T) {
	amount := usd(t, "10.00")

	_, err := NewPayment("", nil, amount, "card", "TXN-1", time.Now())
	assert.ErrorIs(t, err, ErrInvalidCustomerID)

	_, err = NewPayment("CUST-1", nil, usd(t, "0"), "card", "TXN-1", time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewPayment("CUST-1", nil, amount, "card", "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransactionRef)

	p, err := NewPayment("CUST-1", nil, amount, "card", "TXN-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusReceived, p.Status)
	assert.Nil(t, p.DebtID)
}
