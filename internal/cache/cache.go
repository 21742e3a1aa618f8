package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// entry wraps a stored value with the metadata expiry and eviction need.
type entry[T any] struct {
	data           T
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
}

// Config controls cache sizing and expiry.
type Config struct {
	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration
	// MaxAge is a global ceiling: entries older than this are gone regardless
	// of their own TTL. Zero disables the ceiling.
	MaxAge time.Duration
	// MaxSize bounds the number of entries. Zero means unlimited.
	MaxSize int
}

// Cache is a concurrency-safe TTL cache. Expired entries are purged lazily on
// read and in bulk by Cleanup; when full it evicts roughly 10% of entries,
// lowest access score first. Lookups never fail: a miss is (zero, false).
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
	cfg     Config

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates an empty cache with the given configuration.
func New[T any](cfg Config) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Set stores value under key with the default TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL, evicting low-score
// entries first if the cache is at capacity.
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.cfg.MaxSize > 0 && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked(now)
	}

	c.entries[key] = &entry[T]{
		data:           value,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
	}
}

// Get returns the value for key if present and fresh, updating access
// statistics. Expired and overaged entries are removed on the spot.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.staleLocked(e, now) {
		delete(c.entries, key)
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	return e.data, true
}

// Has reports whether key holds a fresh entry without touching access stats.
func (c *Cache[T]) Has(key string) bool {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return ok && !c.staleLocked(e, now)
}

// Delete removes key if present.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (c *Cache[T]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes everything.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[T])
}

// Cleanup sweeps out all expired and overaged entries and returns the count
// removed. Meant to run periodically from the scheduler.
func (c *Cache[T]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.staleLocked(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count, stale entries included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[T]) staleLocked(e *entry[T], now time.Time) bool {
	age := now.Sub(e.createdAt)
	if e.ttl > 0 && age > e.ttl {
		return true
	}
	if c.cfg.MaxAge > 0 && age > c.cfg.MaxAge {
		return true
	}
	return false
}

// evictLocked removes roughly 10% of entries, lowest score first. The score
// weights usage over recency: accessCount*0.7 + recency*0.3, where recency
// decays from 1 toward 0 as the last access grows older.
func (c *Cache[T]) evictLocked(now time.Time) {
	type scored struct {
		key   string
		score float64
	}

	candidates := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		recency := 1.0 / (1.0 + now.Sub(e.lastAccessedAt).Seconds())
		candidates = append(candidates, scored{
			key:   k,
			score: float64(e.accessCount)*0.7 + recency*0.3,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	toEvict := len(c.entries) / 10
	if toEvict < 1 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(candidates); i++ {
		delete(c.entries, candidates[i].key)
	}
}
