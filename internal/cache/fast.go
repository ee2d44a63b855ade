package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lumaview/lumaview/pkg/types"
)

// FastCache is the low-overhead tier of the hybrid cache, backed by
// hashicorp/golang-lru. The library enforces the count bound; the cost
// bound is enforced on top by popping oldest entries after each write.
// Eviction order beyond "oldest first" is not part of this tier's
// contract; callers needing deterministic order use the LRU tier.
type FastCache struct {
	mu          sync.Mutex
	store       *lru.Cache[types.Key, *types.Entry]
	costLimit   int64
	currentCost int64

	hits      uint64
	misses    uint64
	evictions uint64

	onEvict EvictFunc
	// reason applied to the next store-driven eviction callback.
	evictReason types.EvictReason
}

// NewFastCache creates a fast tier bounded by countLimit entries and
// costLimit bytes. countLimit must be positive (the backing store
// requires a fixed size).
func NewFastCache(countLimit int, costLimit int64) (*FastCache, error) {
	c := &FastCache{
		costLimit:   costLimit,
		evictReason: types.EvictCapacity,
	}

	store, err := lru.NewWithEvict[types.Key, *types.Entry](countLimit, c.evicted)
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

// OnEvict registers a callback invoked for every eviction and removal.
func (c *FastCache) OnEvict(fn EvictFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the entry for key.
func (c *FastCache) Get(key types.Key) (*types.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry, true
}

// Contains reports residency without touching counters or recency.
func (c *FastCache) Contains(key types.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Contains(key)
}

// Set stores the entry, letting the backing store evict by count and
// trimming oldest entries while over the cost limit.
func (c *FastCache) Set(entry *types.Entry) {
	if entry == nil || entry.Image == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.store.Peek(entry.Key); ok {
		c.currentCost -= old.Cost
	}
	c.currentCost += entry.Cost

	c.evictReason = types.EvictCapacity
	c.store.Add(entry.Key, entry)

	if c.costLimit > 0 {
		for c.currentCost > c.costLimit && c.store.Len() > 0 {
			if _, _, ok := c.store.RemoveOldest(); !ok {
				break
			}
		}
	}
}

// Remove drops the entry for key.
func (c *FastCache) Remove(key types.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictReason = types.EvictExplicit
	return c.store.Remove(key)
}

// RemoveAll drops every entry and resets the statistics counters.
func (c *FastCache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictReason = types.EvictClear
	c.store.Purge()
	c.currentCost = 0
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// SetLimits replaces the cost bound and trims to it. The count bound is
// fixed at construction by the backing store; countLimit is applied by
// trimming down to it when smaller than the current length.
func (c *FastCache) SetLimits(countLimit int, costLimit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.costLimit = costLimit
	c.evictReason = types.EvictCapacity
	for countLimit > 0 && c.store.Len() > countLimit {
		if _, _, ok := c.store.RemoveOldest(); !ok {
			break
		}
	}
	if c.costLimit > 0 {
		for c.currentCost > c.costLimit && c.store.Len() > 0 {
			if _, _, ok := c.store.RemoveOldest(); !ok {
				break
			}
		}
	}
}

// EvictToCost pops oldest entries until the resident cost is at or
// under target, returning the number removed.
func (c *FastCache) EvictToCost(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	c.evictReason = types.EvictPressure
	for c.currentCost > target && c.store.Len() > 0 {
		if _, _, ok := c.store.RemoveOldest(); !ok {
			break
		}
		removed++
	}
	return removed
}

// Statistics returns a snapshot of the counters.
func (c *FastCache) Statistics() types.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.Statistics{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		ResidentCount: c.store.Len(),
		MemoryBytes:   c.currentCost,
		CostLimit:     c.costLimit,
	}
	stats.HitRate = stats.ComputeHitRate()
	return stats
}

// evicted runs inside the backing store's Add/Remove/Purge calls, which
// only happen while c.mu is held.
func (c *FastCache) evicted(key types.Key, entry *types.Entry) {
	c.currentCost -= entry.Cost
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(key, c.evictReason)
	}
}
