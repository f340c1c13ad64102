package ports

import (
	"context"
	"time"
)

// NonceStore holds single-use challenge nonces
type NonceStore interface {
	// Put stores value under key for ttl, replacing any previous value
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Take atomically returns and removes the value under key.
	// ok is false when the key is absent or expired.
	Take(ctx context.Context, key string) (value string, ok bool, err error)
}
