package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentLedger remembers which jobs already had their message accepted, so a
// job re-run after a crash does not message the customer twice.
type SentLedger interface {
	WasSent(ctx context.Context, key string) (bool, error)
	MarkSent(ctx context.Context, key string, messageID string) error
}

// RedisLedger implements SentLedger with expiring Redis keys.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger; keys live for ttl.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "outbound:sent:"
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) WasSent(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("checking sent ledger: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) MarkSent(ctx context.Context, key string, messageID string) error {
	if messageID == "" {
		messageID = "1"
	}
	if err := l.client.Set(ctx, l.prefix+key, messageID, l.ttl).Err(); err != nil {
		return fmt.Errorf("writing sent ledger: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
