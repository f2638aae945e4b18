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
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GORMDebtRepository struct {
	db        *gorm.DB
	redisRepo *redisrepository.RedisDebtRepository
	logger    *zap.Logger
}

func NewDebtRepository(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *GORMDebtRepository {
	return &GORMDebtRepository{
		db:        db,
		redisRepo: redisrepository.NewRedisDebtRepository(redisClient, 5*time.Minute),
		logger:    logger,
	}
}

// Create persists the debt and its installment schedule in one transaction.
func (r *GORMDebtRepository) Create(ctx context.Context, debt *domain.Debt, installments []*domain.Installment) error {
	debtModel := persistence.DebtModelFromDomain(debt)

	instModels := make([]*persistence.InstallmentModel, len(installments))
	for i, inst := range installments {
		instModels[i] = persistence.InstallmentModelFromDomain(inst)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(debtModel).Error; err != nil {
			return err
		}
		if err := tx.Create(instModels).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to create debt", zap.Error(err), zap.String("debt_id", debt.ID))
		return fmt.Errorf("failed to create debt: %w", err)
	}

	r.logger.Info("debt created",
		zap.String("debt_id", debt.ID),
		zap.String("customer_id", debt.CustomerID),
		zap.Int("installments", len(installments)),
	)

	return nil
}

func (r *GORMDebtRepository) FindByID(ctx context.Context, id string) (*domain.Debt, error) {
	// Try Redis cache first for balance reads
	cached, err := r.redisRepo.FindByID(ctx, id)
	if err == nil {
		r.logger.Debug("debt cache hit", zap.String("debt_id", id))
		return cached, nil
	}

	var model persistence.DebtModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDebtNotFound
		}
		r.logger.Error("failed to query debt", zap.Error(result.Error))
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	debt := model.ToDomain()

	// Update cache asynchronously
	go r.redisRepo.Save(context.Background(), debt)

	return debt, nil
}

func (r *GORMDebtRepository) ListInstallments(ctx context.Context, debtID string, filter domain.InstallmentFilter) ([]*domain.Installment, error) {
	query := r.db.WithContext(ctx).
		Where("debt_id = ?", debtID).
		Order("due_date ASC, sequence_no ASC")

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.OutstandingOnly {
		query = query.Where("amount_due_minor > 0 AND status <> ?", string(domain.InstallmentStatusCanceled))
	}

	var models []persistence.InstallmentModel
	if err := query.Find(&models).Error; err != nil {
		r.logger.Error("failed to list installments",
			zap.Error(err),
			zap.String("debt_id", debtID),
		)
		return nil, fmt.Errorf("database error: %w", err)
	}

	installments := make([]*domain.Installment, len(models))
	for i, model := range models {
		installments[i] = model.ToDomain()
	}

	return installments, nil
}

func (r *GORMDebtRepository) InstallmentsByIDs(ctx context.Context, ids []string) ([]*domain.Installment, error) {
	var models []persistence.InstallmentModel

	result := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models)
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
