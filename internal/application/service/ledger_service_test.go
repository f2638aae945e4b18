package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memLedger is an in-memory stand-in for the MySQL store. Reads hand out
// copies and writes store copies, so service-side mutations only become
// visible through explicit updates - the same contract the real store has.
// It mirrors the store's row-locking behavior too: the coordinator holds a
// per-debt or per-payment mutex for the unit of work, and a locked read of
// a payment waits on whoever holds that payment's mutex. Each unit snapshots
// state once its locks are held and restores it on failure, which lets the
// tests assert all-or-nothing behavior.
type memLedger struct {
	mu           sync.RWMutex
	debts        map[string]*domain.Debt
	installments map[string]*domain.Installment
	payments     map[string]*domain.Payment
	allocations  map[string]*domain.PaymentAllocation

	debtLocks    map[string]*sync.Mutex
	paymentLocks map[string]*sync.Mutex

	failOn string // TxStore method name that should fail, for rollback tests

	// beforePaymentLock runs once, just before a payment-locked unit of work
	// acquires its lock. Tests use it to slip a committed write into that
	// window.
	beforePaymentLock func()
}

func newMemLedger() *memLedger {
	return &memLedger{
		debts:        make(map[string]*domain.Debt),
		installments: make(map[string]*domain.Installment),
		payments:     make(map[string]*domain.Payment),
		allocations:  make(map[string]*domain.PaymentAllocation),
		debtLocks:    make(map[string]*sync.Mutex),
		paymentLocks: make(map[string]*sync.Mutex),
	}
}

func (m *memLedger) lockDebt(id string) func() {
	m.mu.Lock()
	l, ok := m.debtLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.debtLocks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *memLedger) lockPayment(id string) func() {
	m.mu.Lock()
	l, ok := m.paymentLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.paymentLocks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *memLedger) debtExists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.debts[id]
	return ok
}

func (m *memLedger) paymentExists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.payments[id]
	return ok
}

func copyDebt(d *domain.Debt) *domain.Debt { c := *d; return &c }

func copyInstallment(i *domain.Installment) *domain.Installment { c := *i; return &c }

func copyPayment(p *domain.Payment) *domain.Payment { c := *p; return &c }
func copyAllocation(a *domain.PaymentAllocation) *domain.PaymentAllocation {
	c := *a
	if a.ReversedAt != nil {
		at := *a.ReversedAt
		c.ReversedAt = &at
	}
	return &c
}

func (m *memLedger) snapshot() *memLedger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := newMemLedger()
	for k, v := range m.debts {
		s.debts[k] = copyDebt(v)
	}
	for k, v := range m.installments {
		s.installments[k] = copyInstallment(v)
	}
	for k, v := range m.payments {
		s.payments[k] = copyPayment(v)
	}
	for k, v := range m.allocations {
		s.allocations[k] = copyAllocation(v)
	}
	return s
}

func (m *memLedger) restore(s *memLedger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debts = s.debts
	m.installments = s.installments
	m.payments = s.payments
	m.allocations = s.allocations
}

// --- domain.TxStore ---

func (m *memLedger) Debt(_ context.Context, debtID string) (*domain.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.debts[debtID]
	if !ok {
		return nil, domain.ErrDebtNotFound
	}
	return copyDebt(d), nil
}

func (m *memLedger) PaymentByID(_ context.Context, id string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (m *memLedger) Installments(_ context.Context, debtID string) ([]*domain.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Installment
	for _, inst := range m.installments {
		if inst.DebtID == debtID {
			out = append(out, copyInstallment(inst))
		}
	}
	return out, nil
}

func (m *memLedger) InstallmentsByIDs(_ context.Context, ids []string) ([]*domain.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Installment, 0, len(ids))
	for _, id := range ids {
		inst, ok := m.installments[id]
		if !ok {
			return nil, domain.ErrInstallmentNotFound
		}
		out = append(out, copyInstallment(inst))
	}
	return out, nil
}

func (m *memLedger) ActiveAllocations(_ context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.PaymentAllocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID && !a.Reversed {
			out = append(out, copyAllocation(a))
		}
	}
	return out, nil
}

func (m *memLedger) InsertAllocations(_ context.Context, allocations []*domain.PaymentAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn == "InsertAllocations" {
		return errors.New("injected store failure")
	}
	for _, a := range allocations {
		m.allocations[a.ID] = copyAllocation(a)
	}
	return nil
}

func (m *memLedger) MarkAllocationsReversed(_ context.Context, paymentID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.allocations {
		if a.PaymentID == paymentID && !a.Reversed {
			a.Reversed = true
			a.ReversalReason = reason
			t := at
			a.ReversedAt = &t
		}
	}
	return nil
}

func (m *memLedger) UpdateInstallments(_ context.Context, installments []*domain.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inst := range installments {
		if _, ok := m.installments[inst.ID]; !ok {
			return domain.ErrInstallmentNotFound
		}
		m.installments[inst.ID] = copyInstallment(inst)
	}
	return nil
}

func (m *memLedger) UpdateDebt(_ context.Context, debt *domain.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn == "UpdateDebt" {
		return errors.New("injected store failure")
	}
	if _, ok := m.debts[debt.ID]; !ok {
		return domain.ErrDebtNotFound
	}
	m.debts[debt.ID] = copyDebt(debt)
	return nil
}

func (m *memLedger) UpdatePayment(_ context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	m.payments[payment.ID] = copyPayment(payment)
	return nil
}

// --- domain.PaymentRepository ---

func (m *memLedger) Create(_ context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.ProviderTxnID == payment.ProviderTxnID && p.Status != domain.PaymentStatusFailed {
			return domain.ErrDuplicateTransaction
		}
	}
	m.payments[payment.ID] = copyPayment(payment)
	return nil
}

func (m *memLedger) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	return m.PaymentByID(ctx, id)
}

func (m *memLedger) FindByProviderTxnID(_ context.Context, providerTxnID string) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.ProviderTxnID == providerTxnID {
			return copyPayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *memLedger) ListByCustomerID(_ context.Context, customerID string, limit, offset int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Payment
	for _, p := range m.payments {
		if p.CustomerID == customerID {
			out = append(out, copyPayment(p))
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *memLedger) CountByCustomerID(_ context.Context, customerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, p := range m.payments {
		if p.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// --- domain.DebtRepository ---

func (m *memLedger) CreateDebt(_ context.Context, debt *domain.Debt, installments []*domain.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debts[debt.ID] = copyDebt(debt)
	for _, inst := range installments {
		m.installments[inst.ID] = copyInstallment(inst)
	}
	return nil
}

func (m *memLedger) FindDebtByID(ctx context.Context, id string) (*domain.Debt, error) {
	return m.Debt(ctx, id)
}

func (m *memLedger) ListInstallments(ctx context.Context, debtID string, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	all, _ := m.Installments(ctx, debtID)
	if !filter.OutstandingOnly && len(filter.Statuses) == 0 {
		return all, nil
	}

	var out []*domain.Installment
	for _, inst := range all {
		if filter.OutstandingOnly && !inst.Outstanding() {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if inst.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// --- domain.AllocationRepository ---

func (m *memLedger) ListByPaymentID(_ context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.PaymentAllocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID {
			out = append(out, copyAllocation(a))
		}
	}
	return out, nil
}

func (m *memLedger) ListActiveByPaymentID(ctx context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	return m.ActiveAllocations(ctx, paymentID)
}

// debtRepoAdapter exposes the memLedger under the DebtRepository method
// names that collide with TxStore.
type debtRepoAdapter struct{ m *memLedger }

func (a debtRepoAdapter) Create(ctx context.Context, debt *domain.Debt, installments []*domain.Installment) error {
	return a.m.CreateDebt(ctx, debt, installments)
}
func (a debtRepoAdapter) FindByID(ctx context.Context, id string) (*domain.Debt, error) {
	return a.m.FindDebtByID(ctx, id)
}
func (a debtRepoAdapter) ListInstallments(ctx context.Context, debtID string, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	return a.m.ListInstallments(ctx, debtID, filter)
}
func (a debtRepoAdapter) InstallmentsByIDs(ctx context.Context, ids []string) ([]*domain.Installment, error) {
	return a.m.InstallmentsByIDs(ctx, ids)
}

// memTx is the store handed to a unit of work. Reading a payment through it
// takes that payment's mutex for the rest of the unit, the in-memory twin of
// the store's locked payment read. The rollback snapshot is taken at the
// first store call, so after waiting on a lock the unit sees (and would
// restore to) the state the previous holder committed.
type memTx struct {
	m       *memLedger
	snap    *memLedger
	held    map[string]bool
	unlocks []func()
}

func (t *memTx) ensureSnap() {
	if t.snap == nil {
		t.snap = t.m.snapshot()
	}
}

func (t *memTx) rollback() {
	if t.snap != nil {
		t.m.restore(t.snap)
	}
}

func (t *memTx) release() {
	for _, unlock := range t.unlocks {
		unlock()
	}
}

func (t *memTx) PaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	if !t.held[id] {
		t.unlocks = append(t.unlocks, t.m.lockPayment(id))
		t.held[id] = true
	}
	t.ensureSnap()
	return t.m.PaymentByID(ctx, id)
}

func (t *memTx) Debt(ctx context.Context, debtID string) (*domain.Debt, error) {
	t.ensureSnap()
	return t.m.Debt(ctx, debtID)
}

func (t *memTx) Installments(ctx context.Context, debtID string) ([]*domain.Installment, error) {
	t.ensureSnap()
	return t.m.Installments(ctx, debtID)
}

func (t *memTx) InstallmentsByIDs(ctx context.Context, ids []string) ([]*domain.Installment, error) {
	t.ensureSnap()
	return t.m.InstallmentsByIDs(ctx, ids)
}

func (t *memTx) ActiveAllocations(ctx context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	t.ensureSnap()
	return t.m.ActiveAllocations(ctx, paymentID)
}

func (t *memTx) InsertAllocations(ctx context.Context, allocations []*domain.PaymentAllocation) error {
	t.ensureSnap()
	return t.m.InsertAllocations(ctx, allocations)
}

func (t *memTx) MarkAllocationsReversed(ctx context.Context, paymentID, reason string, at time.Time) error {
	t.ensureSnap()
	return t.m.MarkAllocationsReversed(ctx, paymentID, reason, at)
}

func (t *memTx) UpdateInstallments(ctx context.Context, installments []*domain.Installment) error {
	t.ensureSnap()
	return t.m.UpdateInstallments(ctx, installments)
}

func (t *memTx) UpdateDebt(ctx context.Context, debt *domain.Debt) error {
	t.ensureSnap()
	return t.m.UpdateDebt(ctx, debt)
}

func (t *memTx) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	t.ensureSnap()
	return t.m.UpdatePayment(ctx, payment)
}

// memCoordinator mirrors the MySQL coordinator's locking discipline: a debt
// or payment mutex held for the whole unit of work, all-or-nothing semantics
// via snapshot/restore, and the debt-before-payment lock order.
type memCoordinator struct{ m *memLedger }

func (c memCoordinator) WithDebtLock(ctx context.Context, debtID string, fn func(ctx context.Context, store domain.TxStore) error) error {
	unlock := c.m.lockDebt(debtID)
	defer unlock()

	if !c.m.debtExists(debtID) {
		return domain.ErrDebtNotFound
	}

	tx := &memTx{m: c.m, held: make(map[string]bool)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (c memCoordinator) WithPaymentLock(ctx context.Context, paymentID string, fn func(ctx context.Context, store domain.TxStore) error) error {
	if c.m.beforePaymentLock != nil {
		hook := c.m.beforePaymentLock
		c.m.beforePaymentLock = nil
		hook()
	}

	unlock := c.m.lockPayment(paymentID)
	defer unlock()

	if !c.m.paymentExists(paymentID) {
		return domain.ErrPaymentNotFound
	}

	tx := &memTx{m: c.m, held: map[string]bool{paymentID: true}}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func newTestService(m *memLedger) *LedgerService {
	return NewLedgerService(m, debtRepoAdapter{m}, m, memCoordinator{m}, nil, zap.NewNop(), domain.OrderOldestDueFirst)
}

func mustUSD(t *testing.T, value string) domain.Money {
	t.Helper()
	m, err := domain.ParseMoney(value, "USD")
	require.NoError(t, err)
	return m
}

// seedDebt registers a debt with one installment per amount, due a month
// apart, and returns it with the installments in schedule order.
func seedDebt(t *testing.T, m *memLedger, amounts ...string) (*domain.Debt, []*domain.Installment) {
	t.Helper()

	specs := make([]domain.InstallmentSpec, len(amounts))
	base := time.Now().AddDate(0, 1, 0)
	for i, a := range amounts {
		specs[i] = domain.InstallmentSpec{
			SequenceNo: i + 1,
			Amount:     mustUSD(t, a),
			DueDate:    base.AddDate(0, i, 0),
		}
	}

	debt, installments, err := domain.NewDebt("CUST-1", "USD", specs)
	require.NoError(t, err)
	require.NoError(t, m.CreateDebt(context.Background(), debt, installments))
	return debt, installments
}

func recordTestPayment(t *testing.T, svc *LedgerService, debtID *string, amount, txnRef string) *domain.Payment {
	t.Helper()

	result, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CustomerID:    "CUST-1",
		DebtID:        debtID,
		Amount:        mustUSD(t, amount),
		Method:        "bank_transfer",
		ProviderTxnID: txnRef,
		ReceivedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	return result.Payment
}

func TestRecordPayment_Success(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")

	payment := recordTestPayment(t, svc, &debt.ID, "50.00", "TXN-1")

	assert.Equal(t, domain.PaymentStatusReceived, payment.Status)
	assert.Equal(t, mustUSD(t, "50.00"), payment.Amount)

	stored, err := m.FindByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", stored.ProviderTxnID)
}

func TestRecordPayment_IdempotentReplay(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")

	first := recordTestPayment(t, svc, &debt.ID, "50.00", "TXN-1")

	// same providerTxnId delivered again: one stored payment, same id back
	replay, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CustomerID:    "CUST-1",
		DebtID:        &debt.ID,
		Amount:        mustUSD(t, "50.00"),
		Method:        "bank_transfer",
		ProviderTxnID: "TXN-1",
		ReceivedAt:    time.Now(),
	})
	require.NoError(t, err)

	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.ID, replay.Payment.ID)
	assert.Len(t, m.payments, 1)
}

func TestRecordPayment_Validation(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")

	_, err := svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CustomerID:    "CUST-1",
		DebtID:        &debt.ID,
		Amount:        mustUSD(t, "0"),
		ProviderTxnID: "TXN-1",
		ReceivedAt:    time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	unknown := "no-such-debt"
	_, err = svc.RecordPayment(context.Background(), RecordPaymentRequest{
		CustomerID:    "CUST-1",
		DebtID:        &unknown,
		Amount:        mustUSD(t, "10.00"),
		ProviderTxnID: "TXN-2",
		ReceivedAt:    time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrDebtNotFound)

	assert.Empty(t, m.payments, "failed submissions must not be stored")
}

func TestAllocate_Waterfall(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, &debt.ID, "120.00", "TXN-1")

	result, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 2)
	assert.Equal(t, mustUSD(t, "100.00"), result.Allocations[0].Amount)
	assert.Equal(t, mustUSD(t, "20.00"), result.Allocations[1].Amount)
	assert.True(t, result.UnappliedAmount.IsZero())
	assert.Equal(t, mustUSD(t, "30.00"), result.DebtBalance)
	assert.False(t, result.DebtSettled)

	first := m.installments[installments[0].ID]
	second := m.installments[installments[1].ID]
	assert.Equal(t, domain.InstallmentStatusPaid, first.Status)
	assert.True(t, first.AmountDue.IsZero())
	assert.Equal(t, domain.InstallmentStatusPartiallyPaid, second.Status)
	assert.Equal(t, mustUSD(t, "30.00"), second.AmountDue)

	storedDebt := m.debts[debt.ID]
	assert.Equal(t, mustUSD(t, "30.00"), storedDebt.CurrentBalance)
}

func TestAllocate_SecondCallRejected(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")
	payment := recordTestPayment(t, svc, &debt.ID, "40.00", "TXN-1")

	_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyAllocated)
}

func TestAllocate_ReversedPaymentRejected(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")
	payment := recordTestPayment(t, svc, &debt.ID, "40.00", "TXN-1")

	_, err := svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "chargeback"})
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	assert.ErrorIs(t, err, domain.ErrPaymentReversed)
}

func TestAllocate_OverpaymentTracksUnappliedCredit(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, &debt.ID, "200.00", "TXN-1")

	result, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	assert.Equal(t, mustUSD(t, "50.00"), result.UnappliedAmount)
	assert.True(t, result.DebtSettled)
	assert.Equal(t, domain.DebtStatusSettled, m.debts[debt.ID].Status)

	details, err := svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, mustUSD(t, "150.00"), details.AllocatedAmount)
	assert.Equal(t, mustUSD(t, "50.00"), details.UnappliedAmount)
}

func TestAllocate_TargetsRequiredForUnscopedPayment(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	seedDebt(t, m, "100.00")
	payment := recordTestPayment(t, svc, nil, "40.00", "TXN-1")

	_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	assert.ErrorIs(t, err, domain.ErrNoAllocationTarget)
}

func TestAllocate_TargetsMustShareOneDebt(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	_, firstInstallments := seedDebt(t, m, "100.00")
	_, secondInstallments := seedDebt(t, m, "80.00")
	payment := recordTestPayment(t, svc, nil, "40.00", "TXN-1")

	_, err := svc.Allocate(context.Background(), AllocateRequest{
		PaymentID:            payment.ID,
		TargetInstallmentIDs: []string{firstInstallments[0].ID, secondInstallments[0].ID},
	})
	assert.ErrorIs(t, err, domain.ErrMixedDebtTargets)
}

func TestAllocate_ExplicitTargets(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, nil, "40.00", "TXN-1")

	result, err := svc.Allocate(context.Background(), AllocateRequest{
		PaymentID:            payment.ID,
		TargetInstallmentIDs: []string{installments[1].ID},
	})
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, installments[1].ID, result.Allocations[0].InstallmentID)
	assert.Equal(t, mustUSD(t, "40.00"), result.Allocations[0].Amount)
	assert.Equal(t, mustUSD(t, "110.00"), m.debts[debt.ID].CurrentBalance)
	// untargeted installment untouched
	assert.Equal(t, mustUSD(t, "100.00"), m.installments[installments[0].ID].AmountDue)
}

func TestAllocate_FailureRollsEverythingBack(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, &debt.ID, "120.00", "TXN-1")

	m.failOn = "UpdateDebt"
	_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.Error(t, err)
	m.failOn = ""

	// no partial state: installments, debt and allocations all untouched
	assert.Empty(t, m.allocations)
	assert.Equal(t, mustUSD(t, "100.00"), m.installments[installments[0].ID].AmountDue)
	assert.Equal(t, mustUSD(t, "50.00"), m.installments[installments[1].ID].AmountDue)
	assert.Equal(t, mustUSD(t, "150.00"), m.debts[debt.ID].CurrentBalance)

	// and the operation still succeeds afterwards
	_, err = svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)
}

func TestAllocate_ConcurrentUnscopedPaymentSingleWinner(t *testing.T) {
	// A payment not tied to a debt can be targeted at installments of two
	// different debts, so the two calls contend on different debt locks. The
	// locked payment read is what serializes them: exactly one may allocate.
	for i := 0; i < 20; i++ {
		m := newMemLedger()
		svc := newTestService(m)
		_, firstInstallments := seedDebt(t, m, "100.00")
		_, secondInstallments := seedDebt(t, m, "80.00")
		payment := recordTestPayment(t, svc, nil, "40.00", "TXN-1")

		targets := [][]string{
			{firstInstallments[0].ID},
			{secondInstallments[0].ID},
		}

		errs := make(chan error, len(targets))
		var wg sync.WaitGroup
		for _, ids := range targets {
			wg.Add(1)
			go func(ids []string) {
				defer wg.Done()
				_, err := svc.Allocate(context.Background(), AllocateRequest{
					PaymentID:            payment.ID,
					TargetInstallmentIDs: ids,
				})
				errs <- err
			}(ids)
		}
		wg.Wait()
		close(errs)

		var wins, losses int
		for err := range errs {
			if err == nil {
				wins++
				continue
			}
			losses++
			assert.ErrorIs(t, err, domain.ErrAlreadyAllocated)
		}
		require.Equal(t, 1, wins, "exactly one allocation may succeed")
		require.Equal(t, 1, losses)

		// the payment is allocated once, in full, never twice
		active, err := m.ListActiveByPaymentID(context.Background(), payment.ID)
		require.NoError(t, err)
		allocated := domain.ZeroMoney("USD")
		for _, a := range active {
			allocated, err = allocated.Add(a.Amount)
			require.NoError(t, err)
		}
		assert.Equal(t, payment.Amount, allocated)
	}
}

func TestReverse_RestoresPreAllocationState(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, &debt.ID, "120.00", "TXN-1")

	_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	result, err := svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "chargeback"})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusReversed, result.Payment.Status)
	assert.Len(t, result.ReversedAllocations, 2)
	require.NotNil(t, result.DebtBalance)
	assert.Equal(t, mustUSD(t, "150.00"), *result.DebtBalance)

	// both installments bit-for-bit back to their original values
	for i, inst := range installments {
		stored := m.installments[inst.ID]
		assert.Equal(t, domain.InstallmentStatusDue, stored.Status, "installment %d", i)
		assert.Equal(t, stored.OriginalAmount, stored.AmountDue)
		assert.True(t, stored.AmountPaid.IsZero())
	}

	assert.Equal(t, mustUSD(t, "150.00"), m.debts[debt.ID].CurrentBalance)
	assert.Equal(t, domain.DebtStatusOpen, m.debts[debt.ID].Status)

	// allocations are retained for audit, flagged reversed
	for _, a := range m.allocations {
		assert.True(t, a.Reversed)
		assert.Equal(t, "chargeback", a.ReversalReason)
		assert.NotNil(t, a.ReversedAt)
	}
}

func TestReverse_AlreadyReversed(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "100.00")
	payment := recordTestPayment(t, svc, &debt.ID, "40.00", "TXN-1")

	_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "chargeback"})
	require.NoError(t, err)

	_, err = svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "again"})
	assert.ErrorIs(t, err, domain.ErrAlreadyReversed)
}

func TestReverse_NotFound(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)

	_, err := svc.Reverse(context.Background(), ReverseRequest{PaymentID: "missing", Reason: "chargeback"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestReverse_UnallocatedPayment(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00")
	payment := recordTestPayment(t, svc, &debt.ID, "40.00", "TXN-1")

	result, err := svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "sent in error"})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusReversed, result.Payment.Status)
	assert.Empty(t, result.ReversedAllocations)
	assert.Nil(t, result.DebtID)

	// debt state never entered the picture
	assert.Equal(t, mustUSD(t, "100.00"), m.installments[installments[0].ID].AmountDue)
}

func TestReverse_AllocationLandingBeforePaymentLockIsUnwound(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, installments := seedDebt(t, m, "100.00", "50.00")
	payment := recordTestPayment(t, svc, &debt.ID, "120.00", "TXN-1")

	// an allocation commits after the reversal's no-allocations read but
	// before it takes the payment lock
	m.beforePaymentLock = func() {
		_, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
		require.NoError(t, err)
	}

	result, err := svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "chargeback"})
	require.NoError(t, err)

	// the reversal noticed the allocations and took the full unwind path
	assert.Equal(t, domain.PaymentStatusReversed, result.Payment.Status)
	require.Len(t, result.ReversedAllocations, 2)
	require.NotNil(t, result.DebtBalance)
	assert.Equal(t, mustUSD(t, "150.00"), *result.DebtBalance)

	for _, inst := range installments {
		stored := m.installments[inst.ID]
		assert.Equal(t, stored.OriginalAmount, stored.AmountDue)
		assert.True(t, stored.AmountPaid.IsZero())
	}
	for _, a := range m.allocations {
		assert.True(t, a.Reversed)
	}
}

func TestConservation_AfterAllocateAndReverse(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "40.00", "25.00", "35.00")
	payment := recordTestPayment(t, svc, &debt.ID, "80.00", "TXN-1")

	result, err := svc.Allocate(context.Background(), AllocateRequest{PaymentID: payment.ID})
	require.NoError(t, err)

	allocated := domain.ZeroMoney("USD")
	for _, a := range result.Allocations {
		allocated, err = allocated.Add(a.Amount)
		require.NoError(t, err)
	}
	total, err := allocated.Add(result.UnappliedAmount)
	require.NoError(t, err)
	assert.Equal(t, payment.Amount, total)

	// the remainder invariant holds for every installment after both operations
	checkInvariant := func() {
		for _, inst := range m.installments {
			sum, err := inst.AmountPaid.Add(inst.AmountDue)
			require.NoError(t, err)
			assert.Equal(t, inst.OriginalAmount, sum)
		}
	}
	checkInvariant()

	_, err = svc.Reverse(context.Background(), ReverseRequest{PaymentID: payment.ID, Reason: "chargeback"})
	require.NoError(t, err)
	checkInvariant()
}

func TestListCustomerPayments_Pagination(t *testing.T) {
	m := newMemLedger()
	svc := newTestService(m)
	debt, _ := seedDebt(t, m, "500.00")

	for i := 0; i < 5; i++ {
		recordTestPayment(t, svc, &debt.ID, "10.00", "TXN-"+string(rune('A'+i)))
	}

	result, err := svc.ListCustomerPayments(context.Background(), "CUST-1", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.TotalCount)
	assert.Equal(t, 3, result.TotalPages)
	assert.Len(t, result.Payments, 2)
}
