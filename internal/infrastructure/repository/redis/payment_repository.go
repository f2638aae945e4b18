package redisrepository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/go-redis/redis/v8"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
)

// RedisPaymentRepository is the fast-path idempotency guard in front of the
// MySQL unique constraint. It is advisory only; the unique index on
// provider_txn_id remains the authoritative check.
type RedisPaymentRepository struct {
	client *redis.Client
}

func NewRedisPaymentRepository(client *redis.Client) *RedisPaymentRepository {
	return &RedisPaymentRepository{
		client: client,
	}
}

func (r *RedisPaymentRepository) Save(ctx context.Context, payment *domain.Payment) error {
	key := r.paymentKey(payment.ProviderTxnID)

	data, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	wasSet, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}

	if !wasSet {
		return domain.ErrDuplicateTransaction
	}

	return nil
}

func (r *RedisPaymentRepository) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*domain.Payment, error) {
	key := r.paymentKey(providerTxnID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	var payment domain.Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return &payment, nil
}

func (r *RedisPaymentRepository) ExistsByProviderTxnID(ctx context.Context, providerTxnID string) (bool, error) {
	key := r.paymentKey(providerTxnID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check payment existence: %w", err)
	}

	return exists > 0, nil
}

func (r *RedisPaymentRepository) paymentKey(providerTxnID string) string {
	return fmt.Sprintf("payment:txn:%s", providerTxnID)
}
