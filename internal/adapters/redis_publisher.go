// internal/adapters/redis_publisher.go
package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bruna557/python-patterns/internal/domain"
)

// RedisEventPublisher pushes domain events onto Redis pub/sub channels
// for external consumers.
type RedisEventPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisEventPublisher(client *redis.Client, logger *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{client: client, logger: logger}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventName(), err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventName(), channel, err)
	}
	p.logger.Debug("event published",
		zap.String("channel", channel),
		zap.String("event", event.EventName()),
	)
	return nil
}
