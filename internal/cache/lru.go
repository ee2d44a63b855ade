package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/lumaview/lumaview/pkg/types"
)

// EvictFunc observes every entry leaving a cache tier together with the
// reason it left. Called with the tier lock held; must not re-enter the
// tier.
type EvictFunc func(key types.Key, reason types.EvictReason)

// LRUCache is a count- and cost-bounded cache with deterministic
// least-recently-used eviction: an intrusive doubly-linked list ordered
// by recency plus a hash index from key to node. Get moves the accessed
// node to the head; eviction pops from the tail.
type LRUCache struct {
	mu          sync.Mutex
	countLimit  int
	costLimit   int64
	currentCost int64
	items       map[types.Key]*list.Element
	evictList   *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	onEvict EvictFunc
}

// NewLRUCache creates an LRU tier with the given bounds. Zero or
// negative limits mean unbounded for that dimension.
func NewLRUCache(countLimit int, costLimit int64) *LRUCache {
	return &LRUCache{
		countLimit: countLimit,
		costLimit:  costLimit,
		items:      make(map[types.Key]*list.Element),
		evictList:  list.New(),
	}
}

// OnEvict registers a callback invoked for every eviction and removal.
func (c *LRUCache) OnEvict(fn EvictFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the entry for key and marks it most recently used.
func (c *LRUCache) Get(key types.Key) (*types.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	c.evictList.MoveToFront(el)
	c.hits++
	return el.Value.(*types.Entry), true
}

// Contains reports residency without touching counters or recency.
func (c *LRUCache) Contains(key types.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Set inserts the entry at the most-recently-used end, synchronously
// evicting from the tail until the cache is back under its limits.
func (c *LRUCache) Set(entry *types.Entry) {
	if entry == nil || entry.Image == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[entry.Key]; ok {
		old := el.Value.(*types.Entry)
		c.currentCost -= old.Cost
		el.Value = entry
		c.currentCost += entry.Cost
		c.evictList.MoveToFront(el)
		c.enforceLimits()
		return
	}

	el := c.evictList.PushFront(entry)
	c.items[entry.Key] = el
	c.currentCost += entry.Cost
	c.enforceLimits()
}

// Remove drops the entry for key.
func (c *LRUCache) Remove(key types.Key) bool {
	return c.RemoveWithReason(key, types.EvictExplicit)
}

// RemoveWithReason drops the entry for key, attributing the given
// reason to the eviction callback.
func (c *LRUCache) RemoveWithReason(key types.Key, reason types.EvictReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeKey(key, reason)
}

// RemoveAll drops every entry and resets the statistics counters.
func (c *LRUCache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for key := range c.items {
			c.onEvict(key, types.EvictClear)
		}
	}

	c.items = make(map[types.Key]*list.Element)
	c.evictList.Init()
	c.currentCost = 0
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// SetLimits replaces the bounds and evicts immediately if over them.
func (c *LRUCache) SetLimits(countLimit int, costLimit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.countLimit = countLimit
	c.costLimit = costLimit
	c.enforceLimits()
}

// EvictToCost evicts from the least-recently-used end until the
// resident cost is at or under target, returning the number removed.
func (c *LRUCache) EvictToCost(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for c.currentCost > target && c.evictList.Len() > 0 {
		c.evictOldest(types.EvictPressure)
		removed++
	}
	return removed
}

// Keys returns the resident keys ordered most to least recently used.
func (c *LRUCache) Keys() []types.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]types.Key, 0, len(c.items))
	for el := c.evictList.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*types.Entry).Key)
	}
	return keys
}

// Statistics returns a snapshot of the counters.
func (c *LRUCache) Statistics() types.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.Statistics{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		ResidentCount: len(c.items),
		MemoryBytes:   c.currentCost,
		CostLimit:     c.costLimit,
	}
	stats.HitRate = stats.ComputeHitRate()
	return stats
}

func (c *LRUCache) enforceLimits() {
	if c.costLimit > 0 {
		for c.currentCost > c.costLimit && c.evictList.Len() > 0 {
			c.evictOldest(types.EvictCapacity)
		}
	}
	if c.countLimit > 0 {
		for len(c.items) > c.countLimit && c.evictList.Len() > 0 {
			c.evictOldest(types.EvictCapacity)
		}
	}
}

func (c *LRUCache) evictOldest(reason types.EvictReason) {
	el := c.evictList.Back()
	if el == nil {
		return
	}
	c.removeKey(el.Value.(*types.Entry).Key, reason)
}

func (c *LRUCache) removeKey(key types.Key, reason types.EvictReason) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}

	entry := el.Value.(*types.Entry)
	c.evictList.Remove(el)
	delete(c.items, key)
	c.currentCost -= entry.Cost
	c.evictions++

	if c.currentCost < 0 {
		// Cost accounting went negative: an internal invariant breach,
		// not a recoverable condition.
		panic(fmt.Sprintf("cache: capacity violation, cost %d after removing %s", c.currentCost, key))
	}

	if c.onEvict != nil {
		c.onEvict(key, reason)
	}
	return true
}
