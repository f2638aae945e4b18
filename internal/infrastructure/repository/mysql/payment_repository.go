package sqlrepository

import (
	"context"
	"errors"
	"fmt"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/debtflow/ledger-service/internal/infrastructure/persistence"
	redisrepository "github.com/debtflow/ledger-service/internal/infrastructure/repository/redis"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GORMPaymentRepository struct {
	db        *gorm.DB
	redisRepo *redisrepository.RedisPaymentRepository
	logger    *zap.Logger
}

func NewPaymentRepository(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *GORMPaymentRepository {
	return &GORMPaymentRepository{
		db:        db,
		redisRepo: redisrepository.NewRedisPaymentRepository(redisClient),
		logger:    logger,
	}
}

// Create inserts the payment. The Redis dedup check is a fast path; the
// unique index on provider_txn_id is what actually makes the check-and-insert
// race-free across concurrent webhook deliveries.
func (r *GORMPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	exists, err := r.redisRepo.ExistsByProviderTxnID(ctx, payment.ProviderTxnID)
	if err != nil {
		r.logger.Warn("redis dedup check failed, falling back to MySQL", zap.Error(err))
	} else if exists {
		return domain.ErrDuplicateTransaction
	}

	model := persistence.PaymentModelFromDomain(payment)

	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		if isDuplicateError(result.Error) {
			return domain.ErrDuplicateTransaction
		}

		r.logger.Error("failed to save payment", zap.Error(result.Error))
		return fmt.Errorf("database error: %w", result.Error)
	}

	// cache the dedup key for subsequent deliveries
	go r.redisRepo.Save(context.Background(), payment)

	r.logger.Debug("payment saved to MySQL",
		zap.String("payment_id", payment.ID),
		zap.String("provider_txn_id", payment.ProviderTxnID),
	)

	return nil
}

func (r *GORMPaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	var model persistence.PaymentModel

	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	return model.ToDomain(), nil
}

func (r *GORMPaymentRepository) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*domain.Payment, error) {
	var model persistence.PaymentModel

	result := r.db.WithContext(ctx).
		Where("provider_txn_id = ?", providerTxnID).
		First(&model)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	payment := model.ToDomain()

	// refresh the dedup cache
	go r.redisRepo.Save(context.Background(), payment)

	return payment, nil
}

func (r *GORMPaymentRepository) ListByCustomerID(ctx context.Context, customerID string, limit, offset int) ([]*domain.Payment, error) {
	var models []persistence.PaymentModel

	result := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("received_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models)

	if result.Error != nil {
		r.logger.Error("failed to fetch payments by customer ID",
			zap.Error(result.Error),
			zap.String("customer_id", customerID),
		)
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	payments := make([]*domain.Payment, len(models))
	for i, model := range models {
		payments[i] = model.ToDomain()
	}

	return payments, nil
}

func (r *GORMPaymentRepository) CountByCustomerID(ctx context.Context, customerID string) (int64, error) {
	var count int64

	result := r.db.WithContext(ctx).
		Model(&persistence.PaymentModel{}).
		Where("customer_id = ?", customerID).
		Count(&count)

	if result.Error != nil {
		r.logger.Error("failed to count payments by customer ID",
			zap.Error(result.Error),
			zap.String("customer_id", customerID),
		)
		return 0, fmt.Errorf("database error: %w", result.Error)
	}

	return count, nil
}
