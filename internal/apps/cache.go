package apps

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheConfig configures the identity cache
type CacheConfig struct {
	// TTL bounds how stale a cached identity may get; a lock on the
	// owning account takes effect within this window
	TTL time.Duration

	// NegativeTTL caches unknown keys briefly so repeated probes for a
	// bad key do not hammer the store
	NegativeTTL time.Duration

	// FetchTimeout bounds the store lookup behind a coalesced miss
	FetchTimeout time.Duration
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:          120 * time.Second,
		NegativeTTL:  15 * time.Second,
		FetchTimeout: 5 * time.Second,
	}
}

type cacheEntry struct {
	identity  Identity
	expiresAt time.Time
}

// Cache is a cache-aside layer over a Store. Keys are case-insensitive;
// concurrent misses for the same key are coalesced into a single store
// fetch. Entries are replaced wholesale, never partially updated.
type Cache struct {
	store Store
	cfg   CacheConfig

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group

	now func() time.Time
}

// NewCache creates an identity cache over the given store.
func NewCache(store Store, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultCacheConfig().NegativeTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultCacheConfig().FetchTimeout
	}
	return &Cache{
		store:   store,
		cfg:     cfg,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// FindByAppKey resolves an app key to its identity. A zero-value identity
// means the key is unknown. Store errors propagate to the caller and are
// never cached.
func (c *Cache) FindByAppKey(ctx context.Context, appKey string) (Identity, error) {
	key := strings.ToUpper(strings.TrimSpace(appKey))
	if key == "" {
		return Identity{}, nil
	}

	if identity, ok := c.get(key); ok {
		return identity, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Double-check under the flight: a concurrent caller may have
		// populated the entry between our miss and the flight start
		if identity, ok := c.get(key); ok {
			return identity, nil
		}

		// The fetch serves every coalesced waiter, so it must not die
		// with the first caller's request context
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()

		identity, err := c.store.FindByAppKey(fetchCtx, key)
		if err != nil {
			return Identity{}, err
		}

		ttl := c.cfg.TTL
		if identity.AppID == "" {
			ttl = c.cfg.NegativeTTL
		}
		c.set(key, identity, ttl)
		return identity, nil
	})
	if err != nil {
		return Identity{}, err
	}

	return value.(Identity), nil
}

// Invalidate removes a key so the next lookup refetches from the store.
// Used when an account's lock state changes out of band.
func (c *Cache) Invalidate(appKey string) {
	key := strings.ToUpper(strings.TrimSpace(appKey))

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) get(key string) (Identity, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return Identity{}, false
	}
	return entry.identity, true
}

func (c *Cache) set(key string, identity Identity, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{identity: identity, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
