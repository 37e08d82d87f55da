package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

type cacheEntry struct {
	fingerprint string
	response    *types.SkyrailResponse
	createdAt   time.Time
	expiresAt   time.Time
	element     *list.Element
}

// ResponseCache is a fingerprint-keyed LRU store of completed responses.
// TTL and capacity are passed per call so runtime config changes apply
// immediately without flushing existing entries.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List
	hits    uint64
	misses  uint64
}

// NewResponseCache creates an empty response cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
	}
}

// Get returns the live response stored under fingerprint, or false on a miss.
// Expired entries count as misses and are removed. The returned response is a
// shallow copy; the stored entry is never handed out directly.
func (c *ResponseCache) Get(fingerprint string) (*types.SkyrailResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok || time.Now().After(entry.expiresAt) {
		c.misses++
		if ok {
			c.removeEntry(fingerprint)
		}
		return nil, false
	}

	c.lru.MoveToFront(entry.element)
	c.hits++

	resp := *entry.response
	return &resp, true
}

// Put stores resp under fingerprint with expiry now+ttl, evicting
// least-recently-used entries until the store fits within maxSize.
func (c *ResponseCache) Put(fingerprint string, resp *types.SkyrailResponse, ttl time.Duration, maxSize int) {
	if maxSize <= 0 || ttl <= 0 {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[fingerprint]; ok {
		entry.response = resp
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		c.lru.MoveToFront(entry.element)
		return
	}

	// maxSize may have shrunk since the last Put.
	for c.lru.Len() >= maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		fingerprint: fingerprint,
		response:    resp,
		createdAt:   now,
		expiresAt:   now.Add(ttl),
	}
	entry.element = c.lru.PushFront(fingerprint)
	c.entries[fingerprint] = entry
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops all entries. Hit/miss counters are left alone.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current size and hit/miss counts.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:   c.lru.Len(),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CleanupExpired removes entries past their expiry and reports how many went.
func (c *ResponseCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for fingerprint, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expired = append(expired, fingerprint)
		}
	}
	for _, fingerprint := range expired {
		c.removeEntry(fingerprint)
	}
	return len(expired)
}

// Sweep runs CleanupExpired every interval until ctx is cancelled.
func (c *ResponseCache) Sweep(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			c.CleanupExpired()
		}
	}
}

// removeEntry must be called with the lock held.
func (c *ResponseCache) removeEntry(fingerprint string) {
	if entry, ok := c.entries[fingerprint]; ok {
		c.lru.Remove(entry.element)
		delete(c.entries, fingerprint)
	}
}

// evictOldest must be called with the lock held.
func (c *ResponseCache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	fingerprint := back.Value.(string)
	c.lru.Remove(back)
	delete(c.entries, fingerprint)
}
