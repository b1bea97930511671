package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection
type Options struct {
	URL      string
	Password string
	DB       int
}

// RedisClient is the shared Redis cache used for user profiles
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis. URL accepts either a redis:// URL or a
// plain host:port address.
func NewRedisClient(opts Options) (*RedisClient, error) {
	addr := opts.URL
	if addr == "" {
		addr = "localhost:6379"
	}

	redisOpts, err := redis.ParseURL(addr)
	if err != nil {
		redisOpts = &redis.Options{Addr: addr}
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB != 0 {
		redisOpts.DB = opts.DB
	}

	return &RedisClient{client: redis.NewClient(redisOpts)}, nil
}

// Set stores value under key for ttl
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value under key. A missing key is not an error.
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Ping checks connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
