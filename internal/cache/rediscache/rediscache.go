package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

func newClient(o Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

type RedisCache struct {
	c *redis.Client
}

func New(o Options) *RedisCache {
	return &RedisCache{c: newClient(o)}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// SetKeepTTL overwrites a value without touching its expiry. A missing key is
// created with ttl.
func (r *RedisCache) SetKeepTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	n, err := r.c.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "redis exists")
	}
	if n == 0 {
		return r.Set(ctx, key, value, ttl)
	}
	if err := r.c.Set(ctx, key, value, redis.KeepTTL).Err(); err != nil {
		return errors.Wrap(err, "redis set keepttl")
	}
	return nil
}

// Ping backs the readiness probe.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
