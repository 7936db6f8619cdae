package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier-dispatch/internal/domain"
)

// Dedup suppresses replays of already-handled change events. Best effort:
// the conditional store transactions remain the authoritative guard, this
// just avoids re-running selection and notifications on redelivery.
type Dedup interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

func DedupKey(entity domain.Entity, id int64, transition domain.Transition) string {
	return fmt.Sprintf("dispatch:%s:%d:%s", entity, id, transition)
}

type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDedup) Mark(ctx context.Context, key string) error {
	return d.client.Set(ctx, key, "1", d.ttl).Err()
}
