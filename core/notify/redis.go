package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finsync/core/reconcile"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the subset of the redis client used to publish changes.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher implements reconcile.Notifier on a Redis pub/sub channel.
type RedisPublisher struct {
	client  Publisher
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client Publisher, channel string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Connect opens a client from cfg.RedisURL and pings it before returning the publisher.
func Connect(cfg Config, logger *zap.Logger) (*RedisPublisher, *redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPublisher(client, cfg.Channel, logger), client, nil
}

// Notify implements reconcile.Notifier.
func (p *RedisPublisher) Notify(ctx context.Context, change reconcile.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish change on %s: %w", p.channel, err)
	}

	p.logger.Debug("Published cache change",
		zap.String("channel", p.channel),
		zap.String("changed", string(change.Entity)),
		zap.String("scope", change.Scope),
		zap.Int64("receivers", receivers))
	return nil
}
