package memory

import (
	"context"
	"sync"
	"time"
)

// Cache is a TTL-aware map implementing cache.Cache.
type Cache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]cacheEntry), now: time.Now}
}

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.data[key]
	if !found {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
