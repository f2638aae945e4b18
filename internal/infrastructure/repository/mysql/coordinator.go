package sqlrepository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/debtflow/ledger-service/internal/infrastructure/persistence"
	redisrepository "github.com/debtflow/ledger-service/internal/infrastructure/repository/redis"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	mysqlDeadlock        = 1213
	mysqlLockWaitTimeout = 1205
)

// TxCoordinator runs a debt's unit of work as one database transaction with
// the debt row locked FOR UPDATE. The row lock is the per-debt mutex: two
// units of work on the same debt serialize at the SELECT, while unrelated
// debts proceed in parallel. Rollback on any error restores the pre-call
// state exactly.
type TxCoordinator struct {
	db        *gorm.DB
	debtCache *redisrepository.RedisDebtRepository
	logger    *zap.Logger
	retries   int
}

func NewTxCoordinator(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger, retries int) *TxCoordinator {
	if retries < 0 {
		retries = 0
	}
	return &TxCoordinator{
		db:        db,
		debtCache: redisrepository.NewRedisDebtRepository(redisClient, 5*time.Minute),
		logger:    logger,
		retries:   retries,
	}
}

func (c *TxCoordinator) WithDebtLock(ctx context.Context, debtID string, fn func(ctx context.Context, store domain.TxStore) error) error {
	// Invalidate the cached balance before mutating so concurrent readers
	// refetch from MySQL.
	if err := c.debtCache.Delete(ctx, debtID); err != nil {
		c.logger.Warn("failed to invalidate debt cache before unit of work",
			zap.Error(err),
			zap.String("debt_id", debtID),
		)
	}

	err := c.runWithRetries(ctx, debtID, func(tx *gorm.DB) error {
		var model persistence.DebtModel
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", debtID)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return domain.ErrDebtNotFound
			}
			return fmt.Errorf("failed to lock debt: %w", result.Error)
		}

		return fn(ctx, &txStore{tx: tx})
	})
	if err != nil {
		return err
	}

	if delErr := c.debtCache.Delete(ctx, debtID); delErr != nil {
		c.logger.Warn("failed to invalidate debt cache after commit",
			zap.Error(delErr),
			zap.String("debt_id", debtID),
		)
	}
	return nil
}

// WithPaymentLock runs fn with only the payment row locked, for units of
// work that touch no debt state. The lock order is always debt before
// payment; a unit holding only the payment lock can never deadlock against
// one holding both.
func (c *TxCoordinator) WithPaymentLock(ctx context.Context, paymentID string, fn func(ctx context.Context, store domain.TxStore) error) error {
	return c.runWithRetries(ctx, paymentID, func(tx *gorm.DB) error {
		var model persistence.PaymentModel
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", paymentID)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return domain.ErrPaymentNotFound
			}
			return fmt.Errorf("failed to lock payment: %w", result.Error)
		}

		return fn(ctx, &txStore{tx: tx})
	})
}

func (c *TxCoordinator) runWithRetries(ctx context.Context, lockID string, unit func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err := c.db.WithContext(ctx).Transaction(unit)
		if err == nil {
			return nil
		}

		if !isSerializationError(err) {
			return err
		}

		lastErr = err
		c.logger.Warn("unit of work hit lock contention, retrying",
			zap.String("lock_id", lockID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}

	return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, lastErr)
}

func isSerializationError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
	}
	return false
}

// txStore is the transactional view handed to the unit of work. All methods
// run on the coordinator's open transaction.
type txStore struct {
	tx *gorm.DB
}

func (s *txStore) Debt(ctx context.Context, debtID string) (*domain.Debt, error) {
	var model persistence.DebtModel
	result := s.tx.WithContext(ctx).First(&model, "id = ?", debtID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDebtNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return model.ToDomain(), nil
}

// PaymentByID reads the payment with its row locked. The payment row is the
// serialization point for a payment not scoped to one debt: two units of
// work allocating it into different debts hold different debt locks, so
// without this lock both would see zero active allocations and both commit.
func (s *txStore) PaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	var model persistence.PaymentModel
	result := s.tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	return model.ToDomain(), nil
}

func (s *txStore) Installments(ctx context.Context, debtID string) ([]*domain.Installment, error) {
	var models []persistence.InstallmentModel
	result := s.tx.WithContext(ctx).
		Where("debt_id = ?", debtID).
		Order("due_date ASC, sequence_no ASC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	installments := make([]*domain.Installment, len(models))
	for i, model := range models {
		installments[i] = model.ToDomain()
	}
	return installments, nil
}

func (s *txStore) InstallmentsByIDs(ctx context.Context, ids []string) ([]*domain.Installment, error) {
	var models []persistence.InstallmentModel
	result := s.tx.WithContext(ctx).Where("id IN ?", ids).Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}
	if len(models) != len(ids) {
		return nil, domain.ErrInstallmentNotFound
	}

	installments := make([]*domain.Installment, len(models))
	for i, model := range models {
		installments[i] = model.ToDomain()
	}
	return installments, nil
}

func (s *txStore) ActiveAllocations(ctx context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	var models []persistence.AllocationModel
	result := s.tx.WithContext(ctx).
		Where("payment_id = ? AND reversed = ?", paymentID, false).
		Order("created_at ASC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	allocations := make([]*domain.PaymentAllocation, len(models))
	for i, model := range models {
		allocations[i] = model.ToDomain()
	}
	return allocations, nil
}

func (s *txStore) InsertAllocations(ctx context.Context, allocations []*domain.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}

	models := make([]*persistence.AllocationModel, len(allocations))
	for i, a := range allocations {
		models[i] = persistence.AllocationModelFromDomain(a)
	}

	if err := s.tx.WithContext(ctx).Create(models).Error; err != nil {
		return fmt.Errorf("failed to insert allocations: %w", err)
	}
	return nil
}

func (s *txStore) MarkAllocationsReversed(ctx context.Context, paymentID, reason string, at time.Time) error {
	result := s.tx.WithContext(ctx).
		Model(&persistence.AllocationModel{}).
		Where("payment_id = ? AND reversed = ?", paymentID, false).
		Updates(map[string]interface{}{
			"reversed":        true,
			"reversal_reason": reason,
			"reversed_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reverse allocations: %w", result.Error)
	}
	return nil
}

func (s *txStore) UpdateInstallments(ctx context.Context, installments []*domain.Installment) error {
	for _, inst := range installments {
		model := persistence.InstallmentModelFromDomain(inst)
		result := s.tx.WithContext(ctx).
			Model(&persistence.InstallmentModel{}).
			Where("id = ?", inst.ID).
			Updates(map[string]interface{}{
				"amount_due_minor":  model.AmountDueMinor,
				"amount_paid_minor": model.AmountPaidMinor,
				"status":            model.Status,
				"updated_at":        time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update installment %s: %w", inst.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.ErrInstallmentNotFound
		}
	}
	return nil
}

func (s *txStore) UpdateDebt(ctx context.Context, debt *domain.Debt) error {
	model := persistence.DebtModelFromDomain(debt)
	result := s.tx.WithContext(ctx).
		Model(&persistence.DebtModel{}).
		Where("id = ?", debt.ID).
		Updates(map[string]interface{}{
			"current_balance_minor": model.CurrentBalanceMinor,
			"status":                model.Status,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update debt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDebtNotFound
	}
	return nil
}

func (s *txStore) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	result := s.tx.WithContext(ctx).
		Model(&persistence.PaymentModel{}).
		Where("id = ?", payment.ID).
		Update("status", string(payment.Status))
	if result.Error != nil {
		return fmt.Errorf("failed to update payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}
