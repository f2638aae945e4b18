package sqlrepository

import (
	"context"
	"fmt"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/debtflow/ledger-service/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GORMAllocationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAllocationRepository(db *gorm.DB, logger *zap.Logger) *GORMAllocationRepository {
	return &GORMAllocationRepository{
		db:     db,
		logger: logger,
	}
}

func (r *GORMAllocationRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	return r.list(r.db.WithContext(ctx).Where("payment_id = ?", paymentID))
}

func (r *GORMAllocationRepository) ListActiveByPaymentID(ctx context.Context, paymentID string) ([]*domain.PaymentAllocation, error) {
	return r.list(r.db.WithContext(ctx).Where("payment_id = ? AND reversed = ?", paymentID, false))
}

func (r *GORMAllocationRepository) list(query *gorm.DB) ([]*domain.PaymentAllocation, error) {
	var models []persistence.AllocationModel

	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		r.logger.Error("failed to list allocations", zap.Error(err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	allocations := make([]*domain.PaymentAllocation, len(models))
	for i, model := range models {
		allocations[i] = model.ToDomain()
	}

	return allocations, nil
}
