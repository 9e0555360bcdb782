package toolkit

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCacheSize bounds the number of rendered pages held in memory.
	DefaultCacheSize = 100
	// DefaultCacheTTL is how long a rendered page stays fresh.
	DefaultCacheTTL = time.Hour
)

type cacheEntry struct {
	key       string
	value     string
	createdAt time.Time
	expiresAt time.Time
}

// HTMLCache is a thread-safe LRU cache with TTL, used to avoid
// re-rendering pages the agent revisits within an episode.
type HTMLCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // key -> *cacheEntry element

	now func() time.Time
}

// CacheStats is a point-in-time snapshot of the cache.
type CacheStats struct {
	Size      int           `json:"size"`
	MaxSize   int           `json:"max_size"`
	OldestAge time.Duration `json:"oldest_age"`
	NewestAge time.Duration `json:"newest_age"`
}

// NewHTMLCache creates a cache. Non-positive maxSize or ttl fall back to
// the defaults.
func NewHTMLCache(maxSize int, ttl time.Duration) *HTMLCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &HTMLCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:24]
}

// Get returns the cached value for url, or false when absent or expired.
func (c *HTMLCache) Get(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()

	elem, ok := c.entries[cacheKey(url)]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Set stores value for url, evicting the least recently used entry when
// at capacity.
func (c *HTMLCache) Set(url, value string) {
	key := cacheKey(url)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.createdAt = now
		entry.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
		}
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	})
	c.entries[key] = elem
}

// Delete removes the entry for url, reporting whether it existed.
func (c *HTMLCache) Delete(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[cacheKey(url)]
	if ok {
		c.removeLocked(elem)
	}
	return ok
}

// Clear drops every entry.
func (c *HTMLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Size returns the number of live entries.
func (c *HTMLCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	return len(c.entries)
}

// Stats returns a snapshot for diagnostics.
func (c *HTMLCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()

	stats := CacheStats{Size: len(c.entries), MaxSize: c.maxSize}
	if len(c.entries) == 0 {
		return stats
	}

	now := c.now()
	stats.OldestAge = now.Sub(c.order.Back().Value.(*cacheEntry).createdAt)
	stats.NewestAge = now.Sub(c.order.Front().Value.(*cacheEntry).createdAt)
	return stats
}

func (c *HTMLCache) cleanupLocked() {
	now := c.now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !elem.Value.(*cacheEntry).expiresAt.After(now) {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

func (c *HTMLCache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry).key)
}
