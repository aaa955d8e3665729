// Package cache is the port for byte caches fronting the scenario store
// and holding idempotent API responses.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A miss is (nil, false, nil), never an
// error; implementations may ignore ttl and expire entries on their own
// schedule.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
