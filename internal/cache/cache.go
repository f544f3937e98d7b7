// Package cache memoizes source display names so burst processing doesn't
// hammer the transport's metadata lookup.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

// UnknownSourceName is returned when a lookup fails. Failures are not cached,
// so the next Resolve for the same id retries the fetch.
const UnknownSourceName = "Unknown Chat"

const DefaultTTL = 5 * time.Minute

// Fetcher is the subset of the transport adapter the cache needs.
type Fetcher interface {
	ChatInfo(ctx context.Context, sourceID string) (transport.ChatInfo, error)
}

type entry struct {
	name      string
	fetchedAt time.Time
}

// Cache is a TTL-memoized name lookup. Stale entries are refetched on read;
// there is no background eviction.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	log     logx.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func New(fetcher Fetcher, ttl time.Duration, log logx.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		log:     log,
		entries: map[string]entry{},
	}
}

// Resolve returns the display name for a source, fetching and caching it on
// miss or expiry. On fetch failure it returns UnknownSourceName without
// caching, so transient lookup errors heal on the next call.
func (c *Cache) Resolve(ctx context.Context, sourceID string) string {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return UnknownSourceName
	}

	now := time.Now()
	c.mu.Lock()
	if e, ok := c.entries[sourceID]; ok && now.Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.name
	}
	c.mu.Unlock()

	info, err := c.fetcher.ChatInfo(ctx, sourceID)
	if err != nil {
		c.log.Debug("source metadata fetch failed", logx.String("source", sourceID), logx.Err(err))
		return UnknownSourceName
	}
	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = sourceID
	}

	c.mu.Lock()
	c.entries[sourceID] = entry{name: name, fetchedAt: now}
	c.mu.Unlock()
	return name
}

// Invalidate drops a single entry (used when a source is cleared).
func (c *Cache) Invalidate(sourceID string) {
	c.mu.Lock()
	delete(c.entries, sourceID)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
