package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
)

const (
	// CacheKeyPrefix is the store prefix for transient cached data
	CacheKeyPrefix = "cache:"
	// DefaultCacheTTL applies when a caller passes no TTL
	DefaultCacheTTL = 5 * time.Minute
	// MaxCacheTTL caps how long anything stays cached
	MaxCacheTTL = time.Hour
)

type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// TransientCache stores derived, rebuildable data under cache:. Entries
// expire lazily and the whole namespace is dropped when the app goes to the
// background. Security state never lives here.
type TransientCache struct {
	store *database.Guarded
	opts  options
}

func NewTransientCache(store *database.Guarded, opts ...Option) *TransientCache {
	return &TransientCache{store: store, opts: buildOptions(opts)}
}

// Get decodes the cached value for key into dest. A miss, an expired entry
// or an unreadable entry all report false with no error.
func (c *TransientCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := c.store.Get(ctx, CacheKeyPrefix+key)
	if err != nil || !ok {
		return false, nil
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false, nil
	}
	if !c.opts.clock.Now().Before(entry.ExpiresAt) {
		c.dropExpired(ctx, key)
		return false, nil
	}

	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return false, err
	}
	return true, nil
}

// dropExpired removes key only if it is still expired once locked; a
// concurrent Set may already have replaced it.
func (c *TransientCache) dropExpired(ctx context.Context, key string) {
	now := c.opts.clock.Now()
	_ = c.store.Update(ctx, CacheKeyPrefix+key, func(cur string, ok bool) (string, bool, error) {
		if !ok {
			return "", false, nil
		}
		var entry cacheEntry
		if err := json.Unmarshal([]byte(cur), &entry); err == nil && now.Before(entry.ExpiresAt) {
			return cur, true, nil
		}
		return "", false, nil
	})
}

// Set caches value for ttl, clamped to MaxCacheTTL.
func (c *TransientCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	entry, err := json.Marshal(cacheEntry{Value: data, ExpiresAt: c.opts.clock.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	return c.store.Update(ctx, CacheKeyPrefix+key, func(string, bool) (string, bool, error) {
		return string(entry), true, nil
	})
}

// Delete removes a value from cache
func (c *TransientCache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, CacheKeyPrefix+key)
}

// Clear drops every cached entry and reports how many were removed.
func (c *TransientCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.store.KeysWithPrefix(ctx, CacheKeyPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.store.MultiRemove(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
