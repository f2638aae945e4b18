package redisrepository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/go-redis/redis/v8"
)

var (
	ErrDebtNotFound = errors.New("debt not found")
)

// RedisDebtRepository caches debt aggregates for balance reads. Mutating
// units of work invalidate the entry before and after commit so readers
// never see a pre-commit balance for long.
type RedisDebtRepository struct {
	client   *redis.Client
	cacheTTL time.Duration
}

func NewRedisDebtRepository(client *redis.Client, cacheTTL time.Duration) *RedisDebtRepository {
	return &RedisDebtRepository{
		client:   client,
		cacheTTL: cacheTTL,
	}
}

func (r *RedisDebtRepository) FindByID(ctx context.Context, debtID string) (*domain.Debt, error) {
	key := r.debtKey(debtID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrDebtNotFound
		}
		return nil, fmt.Errorf("failed to get debt: %w", err)
	}

	var debt domain.Debt
	if err := json.Unmarshal(data, &debt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal debt: %w", err)
	}

	return &debt, nil
}

func (r *RedisDebtRepository) Save(ctx context.Context, debt *domain.Debt) error {
	key := r.debtKey(debt.ID)

	data, err := json.Marshal(debt)
	if err != nil {
		return fmt.Errorf("failed to marshal debt: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to save debt: %w", err)
	}

	return nil
}

func (r *RedisDebtRepository) Delete(ctx context.Context, debtID string) error {
	if err := r.client.Del(ctx, r.debtKey(debtID)).Err(); err != nil {
		return fmt.Errorf("failed to delete debt: %w", err)
	}
	return nil
}

func (r *RedisDebtRepository) debtKey(debtID string) string {
	return fmt.Sprintf("debt:%s", debtID)
}
