package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the state blob under a single redis key.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts), key: StateKey}, nil
}

// NewRedisBackendFromClient wraps an existing client. Used by tests.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, key: StateKey}
}

func (b *RedisBackend) SaveState(ctx context.Context, payload []byte) error {
	if err := b.client.Set(ctx, b.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) LoadState(ctx context.Context) ([]byte, error) {
	payload, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return payload, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
