package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a cached value and the instant it stops being served.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a time-to-live cache with call coalescing.
type Cache struct {
	defaultTTL time.Duration
	now        func() time.Time

	mu    sync.Mutex
	store map[string]entry

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache. defaultTTL applies when Wrap is called with ttl <= 0.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		defaultTTL: defaultTTL,
		now:        time.Now,
		store:      make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.store, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key until now+ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.store[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Wrap returns the cached value for key, or calls factory and caches its result.
// A failing factory leaves the cache untouched and its error is returned.
func (c *Cache) Wrap(key string, ttl time.Duration, factory func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we waited to enter.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := factory()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Delete removes key so the next Wrap calls its factory.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// Fetch is a typed wrapper around Wrap.
func Fetch[T any](c *Cache, key string, ttl time.Duration, factory func() (T, error)) (T, error) {
	v, err := c.Wrap(key, ttl, func() (any, error) {
		return factory()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	// Key reused with a different type; bypass the stale entry.
	typed, err := factory()
	if err != nil {
		return typed, err
	}
	c.Set(key, typed, ttl)
	return typed, nil
}
