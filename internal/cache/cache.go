package cache

import (
	"context"
	"time"
)

// BytesCache stores opaque values with a TTL. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
