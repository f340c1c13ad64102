package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the NonceStore interface
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "sigil:nonce:",
	}
}

var _ ports.NonceStore = (*RedisStore)(nil)

// Put stores the value with expiration, overwriting any previous value
func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store nonce: %w: %w", core.ErrUnavailable, err)
	}
	return nil
}

// Take reads and deletes the value in a single GETDEL command.
// Redis executes commands one at a time, so concurrent callers cannot both observe the value.
func (s *RedisStore) Take(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to consume nonce: %w: %w", core.ErrUnavailable, err)
	}
	return value, true, nil
}
