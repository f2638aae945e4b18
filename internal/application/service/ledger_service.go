package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
	"go.uber.org/zap"
)

// LedgerService owns the monetary state transitions: recording payments,
// allocating them across installments, and reversing them. Every
// balance-mutating operation runs inside the coordinator's per-debt unit of
// work, so a failure anywhere rolls the whole call back.
type LedgerService struct {
	payments       domain.PaymentRepository
	debts          domain.DebtRepository
	allocations    domain.AllocationRepository
	coordinator    domain.TxCoordinator
	eventPublisher domain.EventPublisher // Optional - can be nil
	logger         *zap.Logger
	order          domain.AllocationOrder
}

func NewLedgerService(
	payments domain.PaymentRepository,
	debts domain.DebtRepository,
	allocations domain.AllocationRepository,
	coordinator domain.TxCoordinator,
	eventPublisher domain.EventPublisher,
	logger *zap.Logger,
	order domain.AllocationOrder,
) *LedgerService {
	return &LedgerService{
		payments:       payments,
		debts:          debts,
		allocations:    allocations,
		coordinator:    coordinator,
		eventPublisher: eventPublisher,
		logger:         logger,
		order:          order,
	}
}

type RecordPaymentRequest struct {
	CustomerID    string
	DebtID        *string
	Amount        domain.Money
	Method        string
	ProviderTxnID string
	ReceivedAt    time.Time
}

type RecordPaymentResult struct {
	Payment *domain.Payment
	// Duplicate is true when the provider transaction was seen before. The
	// caller treats this as success: the webhook sender may retry forever.
	Duplicate bool
}

// RecordPayment is the commit point for "money has arrived". It performs no
// allocation; it only validates, deduplicates and stores the payment.
func (s *LedgerService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	if req.DebtID != nil {
		if _, err := s.debts.FindByID(ctx, *req.DebtID); err != nil {
			s.logger.Error("failed to resolve payment debt",
				zap.Error(err),
				zap.String("debt_id", *req.DebtID),
			)
			return nil, fmt.Errorf("failed to resolve debt: %w", err)
		}
	}

	payment, err := domain.NewPayment(req.CustomerID, req.DebtID, req.Amount, req.Method, req.ProviderTxnID, req.ReceivedAt)
	if err != nil {
		s.logger.Warn("rejected payment",
			zap.Error(err),
			zap.String("customer_id", req.CustomerID),
			zap.String("provider_txn_id", req.ProviderTxnID),
		)
		return nil, err
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			existing, findErr := s.payments.FindByProviderTxnID(ctx, req.ProviderTxnID)
			if findErr != nil {
				return nil, fmt.Errorf("failed to load duplicate payment: %w", findErr)
			}

			s.logger.Info("duplicate payment delivery ignored",
				zap.String("payment_id", existing.ID),
				zap.String("provider_txn_id", req.ProviderTxnID),
			)
			return &RecordPaymentResult{Payment: existing, Duplicate: true}, nil
		}

		s.logger.Error("failed to record payment",
			zap.Error(err),
			zap.String("customer_id", req.CustomerID),
			zap.String("provider_txn_id", req.ProviderTxnID),
		)
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("customer_id", payment.CustomerID),
		zap.String("amount", payment.Amount.String()),
		zap.String("provider_txn_id", payment.ProviderTxnID),
	)

	if s.eventPublisher != nil {
		go s.publish(domain.NewPaymentRecordedEvent(payment))
	}

	return &RecordPaymentResult{Payment: payment}, nil
}

type AllocateRequest struct {
	PaymentID string
	// TargetInstallmentIDs restricts the walk to specific installments. When
	// empty, every outstanding installment of the payment's debt is a
	// candidate. Required for payments not tied to a single debt.
	TargetInstallmentIDs []string
}

type AllocateResult struct {
	Allocations     []*domain.PaymentAllocation
	UnappliedAmount domain.Money
	DebtID          string
	DebtBalance     domain.Money
	DebtSettled     bool
}

// Allocate distributes a recorded payment across its debt's installments
// under the debt's exclusive lock. Allocation is a one-time operation per
// payment; re-running it fails with ErrAlreadyAllocated.
func (s *LedgerService) Allocate(ctx context.Context, req AllocateRequest) (*AllocateResult, error) {
	payment, err := s.payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}

	debtID, err := s.resolveAllocationDebt(ctx, payment, req.TargetInstallmentIDs)
	if err != nil {
		return nil, err
	}

	var result *AllocateResult
	var settledDebt *domain.Debt
	var allocatedEvent *domain.PaymentAllocatedEvent

	err = s.coordinator.WithDebtLock(ctx, debtID, func(ctx context.Context, store domain.TxStore) error {
		current, err := store.PaymentByID(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if current.IsReversed() {
			return domain.ErrPaymentReversed
		}

		active, err := store.ActiveAllocations(ctx, current.ID)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return domain.ErrAlreadyAllocated
		}

		installments, err := store.Installments(ctx, debtID)
		if err != nil {
			return err
		}

		candidates := installments
		if len(req.TargetInstallmentIDs) > 0 {
			candidates, err = filterByID(installments, req.TargetInstallmentIDs)
			if err != nil {
				return err
			}
		}

		plan, err := domain.PlanAllocation(current, candidates, s.order)
		if err != nil {
			return err
		}

		records, err := plan.Apply()
		if err != nil {
			return err
		}

		if err := store.InsertAllocations(ctx, records); err != nil {
			return err
		}

		touched := make([]*domain.Installment, len(plan.Entries))
		for i, entry := range plan.Entries {
			touched[i] = entry.Installment
		}
		if err := store.UpdateInstallments(ctx, touched); err != nil {
			return err
		}

		debt, err := store.Debt(ctx, debtID)
		if err != nil {
			return err
		}
		if err := debt.Recompute(installments); err != nil {
			return err
		}
		if err := store.UpdateDebt(ctx, debt); err != nil {
			return err
		}

		result = &AllocateResult{
			Allocations:     records,
			UnappliedAmount: plan.Unapplied,
			DebtID:          debt.ID,
			DebtBalance:     debt.CurrentBalance,
			DebtSettled:     debt.IsSettled(),
		}

		if s.eventPublisher != nil {
			allocatedEvent = domain.NewPaymentAllocatedEvent(current, debt, records, plan.Unapplied)
			if debt.IsSettled() {
				settledDebt = debt
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("allocation failed",
			zap.Error(err),
			zap.String("payment_id", req.PaymentID),
			zap.String("debt_id", debtID),
		)
		return nil, err
	}

	s.logger.Info("payment allocated",
		zap.String("payment_id", req.PaymentID),
		zap.String("debt_id", result.DebtID),
		zap.Int("allocations", len(result.Allocations)),
		zap.String("unapplied", result.UnappliedAmount.String()),
		zap.Bool("debt_settled", result.DebtSettled),
	)

	if allocatedEvent != nil {
		go s.publish(allocatedEvent)
	}
	if settledDebt != nil {
		go s.publish(domain.NewDebtSettledEvent(settledDebt))
	}

	return result, nil
}

type ReverseRequest struct {
	PaymentID string
	Reason    string
}

type ReverseResult struct {
	Payment             *domain.Payment
	ReversedAllocations []*domain.PaymentAllocation
	DebtID              *string
	DebtBalance         *domain.Money
}

// Reverse undoes a payment: every active allocation is reverted on its
// installment, the debt balance is recomputed, and the payment and its
// allocations are marked reversed. One atomic unit, exact inverse of
// Allocate.
func (s *LedgerService) Reverse(ctx context.Context, req ReverseRequest) (*ReverseResult, error) {
	payment, err := s.payments.FindByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.IsReversed() {
		return nil, domain.ErrAlreadyReversed
	}

	active, err := s.allocations.ListActiveByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	// A payment that looks unallocated carries no debt state to unwind;
	// only its own status flips. The check is repeated under the payment
	// lock: an allocation may land between this read and the lock, in
	// which case the reversal falls through to the debt path below.
	if len(active) == 0 {
		result, err := s.reverseUnallocated(ctx, req)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		active, err = s.allocations.ListActiveByPaymentID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
	}

	debtID, err := s.resolveReversalDebt(ctx, payment, active)
	if err != nil {
		return nil, err
	}

	var result *ReverseResult
	var reversedEvent *domain.PaymentReversedEvent

	err = s.coordinator.WithDebtLock(ctx, debtID, func(ctx context.Context, store domain.TxStore) error {
		current, err := store.PaymentByID(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if current.IsReversed() {
			return domain.ErrAlreadyReversed
		}

		allocations, err := store.ActiveAllocations(ctx, current.ID)
		if err != nil {
			return err
		}

		installments, err := store.Installments(ctx, debtID)
		if err != nil {
			return err
		}
		byID := make(map[string]*domain.Installment, len(installments))
		for _, inst := range installments {
			byID[inst.ID] = inst
		}

		touched := make([]*domain.Installment, 0, len(allocations))
		for _, alloc := range allocations {
			inst, ok := byID[alloc.InstallmentID]
			if !ok {
				return domain.ErrInstallmentNotFound
			}
			if err := inst.RevertPayment(alloc.Amount); err != nil {
				return fmt.Errorf("reverting %s on installment %s: %w", alloc.Amount, inst.ID, err)
			}
			touched = append(touched, inst)
		}

		now := time.Now().UTC()
		if err := store.MarkAllocationsReversed(ctx, current.ID, req.Reason, now); err != nil {
			return err
		}
		if err := store.UpdateInstallments(ctx, touched); err != nil {
			return err
		}

		debt, err := store.Debt(ctx, debtID)
		if err != nil {
			return err
		}
		if err := debt.Recompute(installments); err != nil {
			return err
		}
		if err := store.UpdateDebt(ctx, debt); err != nil {
			return err
		}

		if err := current.MarkReversed(); err != nil {
			return err
		}
		if err := store.UpdatePayment(ctx, current); err != nil {
			return err
		}

		for _, alloc := range allocations {
			alloc.Reversed = true
			alloc.ReversalReason = req.Reason
			alloc.ReversedAt = &now
		}

		result = &ReverseResult{
			Payment:             current,
			ReversedAllocations: allocations,
			DebtID:              &debt.ID,
			DebtBalance:         &debt.CurrentBalance,
		}

		if s.eventPublisher != nil {
			reversedEvent = domain.NewPaymentReversedEvent(current, debt, req.Reason, allocations)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("reversal failed",
			zap.Error(err),
			zap.String("payment_id", req.PaymentID),
			zap.String("debt_id", debtID),
		)
		return nil, err
	}

	s.logger.Info("payment reversed",
		zap.String("payment_id", req.PaymentID),
		zap.String("debt_id", debtID),
		zap.Int("reversed_allocations", len(result.ReversedAllocations)),
		zap.String("reason", req.Reason),
	)

	if reversedEvent != nil {
		go s.publish(reversedEvent)
	}

	return result, nil
}

// reverseUnallocated reverses a payment that holds no active allocations,
// inside a unit of work that locks only the payment row. The lock excludes
// a concurrent Allocate, whose own locked read of the payment would
// otherwise commit allocations against a payment reversed mid-flight. A nil
// result with nil error means allocations appeared before the lock was
// taken; the caller must unwind them through the debt path.
func (s *LedgerService) reverseUnallocated(ctx context.Context, req ReverseRequest) (*ReverseResult, error) {
	var result *ReverseResult
	var reversedEvent *domain.PaymentReversedEvent

	err := s.coordinator.WithPaymentLock(ctx, req.PaymentID, func(ctx context.Context, store domain.TxStore) error {
		current, err := store.PaymentByID(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		if current.IsReversed() {
			return domain.ErrAlreadyReversed
		}

		allocations, err := store.ActiveAllocations(ctx, current.ID)
		if err != nil {
			return err
		}
		if len(allocations) > 0 {
			return nil
		}

		if err := current.MarkReversed(); err != nil {
			return err
		}
		if err := store.UpdatePayment(ctx, current); err != nil {
			return err
		}

		result = &ReverseResult{Payment: current}
		if s.eventPublisher != nil {
			reversedEvent = domain.NewPaymentReversedEvent(current, nil, req.Reason, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	s.logger.Info("unallocated payment reversed",
		zap.String("payment_id", req.PaymentID),
		zap.String("reason", req.Reason),
	)

	if reversedEvent != nil {
		go s.publish(reversedEvent)
	}

	return result, nil
}

// PaymentDetails is the read model for a single payment: the record plus its
// active allocations and the unapplied credit they leave.
type PaymentDetails struct {
	Payment         *domain.Payment
	Allocations     []*domain.PaymentAllocation
	AllocatedAmount domain.Money
	UnappliedAmount domain.Money
}

func (s *LedgerService) GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	active, err := s.allocations.ListActiveByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	allocated := domain.ZeroMoney(payment.Amount.Currency)
	for _, alloc := range active {
		allocated, err = allocated.Add(alloc.Amount)
		if err != nil {
			return nil, err
		}
	}

	unapplied := domain.ZeroMoney(payment.Amount.Currency)
	if !payment.IsReversed() {
		unapplied, err = payment.Amount.Sub(allocated)
		if err != nil {
			return nil, err
		}
	}

	return &PaymentDetails{
		Payment:         payment,
		Allocations:     active,
		AllocatedAmount: allocated,
		UnappliedAmount: unapplied,
	}, nil
}

func (s *LedgerService) GetDebtBalance(ctx context.Context, debtID string) (*domain.Debt, error) {
	return s.debts.FindByID(ctx, debtID)
}

func (s *LedgerService) ListInstallments(ctx context.Context, debtID string, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	if _, err := s.debts.FindByID(ctx, debtID); err != nil {
		return nil, err
	}
	return s.debts.ListInstallments(ctx, debtID, filter)
}

type CustomerPaymentsResult struct {
	Payments   []*domain.Payment
	Page       int
	PageSize   int
	TotalCount int64
	TotalPages int
}

func (s *LedgerService) ListCustomerPayments(ctx context.Context, customerID string, page, pageSize int) (*CustomerPaymentsResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	total, err := s.payments.CountByCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	payments, err := s.payments.ListByCustomerID(ctx, customerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	return &CustomerPaymentsResult{
		Payments:   payments,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// resolveAllocationDebt determines which debt to lock before the unit of
// work opens. Explicit targets must all belong to one debt, and to the
// payment's debt when the payment names one.
func (s *LedgerService) resolveAllocationDebt(ctx context.Context, payment *domain.Payment, targetIDs []string) (string, error) {
	if len(targetIDs) == 0 {
		if payment.DebtID == nil {
			return "", domain.ErrNoAllocationTarget
		}
		return *payment.DebtID, nil
	}

	targets, err := s.debts.InstallmentsByIDs(ctx, targetIDs)
	if err != nil {
		return "", err
	}

	debtID := targets[0].DebtID
	for _, inst := range targets[1:] {
		if inst.DebtID != debtID {
			return "", domain.ErrMixedDebtTargets
		}
	}
	if payment.DebtID != nil && *payment.DebtID != debtID {
		return "", domain.ErrMixedDebtTargets
	}
	return debtID, nil
}

func (s *LedgerService) resolveReversalDebt(ctx context.Context, payment *domain.Payment, active []*domain.PaymentAllocation) (string, error) {
	if payment.DebtID != nil {
		return *payment.DebtID, nil
	}

	ids := make([]string, len(active))
	for i, alloc := range active {
		ids[i] = alloc.InstallmentID
	}
	installments, err := s.debts.InstallmentsByIDs(ctx, ids)
	if err != nil {
		return "", err
	}

	debtID := installments[0].DebtID
	for _, inst := range installments[1:] {
		if inst.DebtID != debtID {
			return "", domain.ErrMixedDebtTargets
		}
	}
	return debtID, nil
}

func (s *LedgerService) publish(event domain.DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("event_type", event.GetEventType()),
			zap.String("event_id", event.GetEventID()),
		)
	}
}

func filterByID(installments []*domain.Installment, ids []string) ([]*domain.Installment, error) {
	byID := make(map[string]*domain.Installment, len(installments))
	for _, inst := range installments {
		byID[inst.ID] = inst
	}

	filtered := make([]*domain.Installment, 0, len(ids))
	for _, id := range ids {
		inst, ok := byID[id]
		if !ok {
			return nil, domain.ErrInstallmentNotFound
		}
		filtered = append(filtered, inst)
	}
	return filtered, nil
}
