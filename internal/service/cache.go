package service

import (
	"context"
	"time"
)

// Cache is a byte oriented key/value cache. It is satisfied by the Redis
// client and by the in-memory cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
