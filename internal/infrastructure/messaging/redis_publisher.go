package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// streamMaxLen caps each event stream. Ledger events drive receipts and
// reminders; nothing replays them to rebuild state, so old entries can be
// trimmed.
const streamMaxLen = 100000

// streamKey maps an event type to its Redis stream. One stream per type so
// the worker can consume allocations, reversals and settlements without
// also draining payment.recorded.
func streamKey(eventType string) string {
	return fmt.Sprintf("ledger:events:%s", eventType)
}

// RedisEventPublisher emits committed ledger transitions onto Redis Streams.
// Callers publish only after their unit of work commits, so nothing
// downstream observes an allocation or reversal that rolled back.
type RedisEventPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisEventPublisher(client *redis.Client, logger *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		client: client,
		logger: logger,
	}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	stream := streamKey(event.GetEventType())

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":     event.GetEventID(),
			"event_type":   event.GetEventType(),
			"aggregate_id": event.GetAggregateID(),
			"occurred_at":  event.GetOccurredAt().Unix(),
			"data":         string(eventData),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		p.logger.Error("failed to publish event",
			zap.Error(err),
			zap.String("event_type", event.GetEventType()),
			zap.String("event_id", event.GetEventID()),
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("event_type", event.GetEventType()),
		zap.String("event_id", event.GetEventID()),
		zap.String("stream", stream),
	)

	return nil
}
