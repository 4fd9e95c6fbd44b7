// Package repository layers cached, typed access to the node's
// characteristics on top of the BLE gateway. Every repository owns one
// characteristic and never reports transport faults as errors: reads fall
// back to the cached value and writes report success as a bool.
package repository

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chaz8081/nodelink/internal/ble"
)

// DefaultTTL is how long a fetched value is served from cache.
const DefaultTTL = 10 * time.Second

// Gateway is the characteristic access the repositories need.
// *ble.Gateway implements it.
type Gateway interface {
	Read(ctx context.Context, serviceUUID, charUUID string) (string, bool)
	WriteWithResponse(ctx context.Context, serviceUUID, charUUID, text string) (string, bool)
	Monitor(serviceUUID, charUUID string, onText func(string)) ble.Subscription
}

// Mergeable is a partial record that can be folded onto a previous value.
type Mergeable[T any] interface {
	Merge(update T) T
}

// Cache holds the last known value of a record and when it was stored.
// Updates are merged field by field, so a partial update never erases
// fields it does not carry.
type Cache[T Mergeable[T]] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	value   T
	present bool
	updated time.Time

	fetches singleflight.Group
}

// NewCache creates an empty cache whose entries stay fresh for ttl.
func NewCache[T Mergeable[T]](ttl time.Duration) *Cache[T] {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache[T]{ttl: ttl, now: time.Now}
}

// Get returns the cached value and whether anything has been cached.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.present
}

// Fresh reports whether the cached value is younger than the TTL.
func (c *Cache[T]) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked()
}

func (c *Cache[T]) freshLocked() bool {
	return c.present && c.now().Before(c.updated.Add(c.ttl))
}

// Merge folds update into the cached value, stamps it and returns the result.
func (c *Cache[T]) Merge(update T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = c.value.Merge(update)
	c.present = true
	c.updated = c.now()
	return c.value
}

// Load returns the cached value while it is fresh, unless force is set.
// Otherwise it calls fetch and merges a successful result. Concurrent
// loads share a single fetch. When fetch fails the previous value, if any,
// is returned.
func (c *Cache[T]) Load(force bool, fetch func() (T, bool)) (T, bool) {
	if !force {
		c.mu.RLock()
		if c.freshLocked() {
			v := c.value
			c.mu.RUnlock()
			return v, true
		}
		c.mu.RUnlock()
	}

	c.fetches.Do("fetch", func() (any, error) {
		if update, ok := fetch(); ok {
			c.Merge(update)
		}
		return nil, nil
	})
	return c.Get()
}
