package cache

import (
	"sync"

	"github.com/lumaview/lumaview/pkg/types"
)

// Compile-time checks that every tier satisfies the cache contract.
var (
	_ types.EntryCache = (*LRUCache)(nil)
	_ types.EntryCache = (*FastCache)(nil)
	_ types.EntryCache = (*HybridCache)(nil)
)

// HybridCache composes the fast tier and the LRU tier. Reads check the
// fast tier first and fall through to the LRU tier on miss, promoting
// on hit; writes populate both. The LRU tier is authoritative: it holds
// every resident entry, drives capacity accounting, and its evictions
// remove the entry from the fast tier as well. The fast tier is a
// latency-motivated subset and may drop entries at any time without the
// entry leaving the cache.
type HybridCache struct {
	fast *FastCache
	lru  *LRUCache

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// HybridConfig bounds the two tiers.
type HybridConfig struct {
	CountLimit    int
	CostLimit     int64
	FastCount     int
	FastCostLimit int64
}

// NewHybridCache creates the composite cache. FastCount defaults to a
// quarter of CountLimit and FastCostLimit to a quarter of CostLimit.
func NewHybridCache(cfg HybridConfig) (*HybridCache, error) {
	fastCount := cfg.FastCount
	if fastCount <= 0 {
		fastCount = cfg.CountLimit / 4
		if fastCount <= 0 {
			fastCount = 64
		}
	}
	fastCost := cfg.FastCostLimit
	if fastCost <= 0 && cfg.CostLimit > 0 {
		fastCost = cfg.CostLimit / 4
	}

	fast, err := NewFastCache(fastCount, fastCost)
	if err != nil {
		return nil, err
	}

	h := &HybridCache{
		fast: fast,
		lru:  NewLRUCache(cfg.CountLimit, cfg.CostLimit),
	}

	// Authoritative-tier evictions invalidate the fast tier so a
	// fast-tier hit can never outlive the entry.
	h.lru.OnEvict(func(key types.Key, reason types.EvictReason) {
		h.fast.Remove(key)
	})

	return h, nil
}

// OnEvict registers a callback for entries leaving the composite, which
// is exactly the set of entries leaving the authoritative LRU tier.
func (h *HybridCache) OnEvict(fn EvictFunc) {
	h.lru.OnEvict(func(key types.Key, reason types.EvictReason) {
		h.fast.Remove(key)
		if fn != nil {
			fn(key, reason)
		}
	})
}

// Get checks the fast tier, falls through to the LRU tier, and promotes
// on an LRU hit. Exactly one composite hit or miss is counted per call.
func (h *HybridCache) Get(key types.Key) (*types.Entry, bool) {
	if entry, ok := h.fast.Get(key); ok {
		// Keep LRU recency in step so a hot entry does not age out of
		// the authoritative tier while still hot in the fast one.
		h.lru.Get(key)
		h.recordHit()
		return entry, true
	}

	if entry, ok := h.lru.Get(key); ok {
		h.fast.Set(entry)
		h.recordHit()
		return entry, true
	}

	h.recordMiss()
	return nil, false
}

// Contains reports residency in the authoritative tier.
func (h *HybridCache) Contains(key types.Key) bool {
	return h.lru.Contains(key)
}

// Set populates both tiers. The fast tier is written first so that an
// immediate authoritative eviction of the same entry leaves no stale
// fast-tier copy behind.
func (h *HybridCache) Set(entry *types.Entry) {
	if entry == nil || entry.Image == nil {
		return
	}
	h.fast.Set(entry)
	h.lru.Set(entry)
}

// Remove drops the entry from both tiers.
func (h *HybridCache) Remove(key types.Key) bool {
	return h.lru.Remove(key)
}

// RemoveWithReason drops the entry from both tiers, attributing the
// given reason to the eviction callback.
func (h *HybridCache) RemoveWithReason(key types.Key, reason types.EvictReason) bool {
	return h.lru.RemoveWithReason(key, reason)
}

// RemoveAll drops every entry and resets all counters.
func (h *HybridCache) RemoveAll() {
	h.lru.RemoveAll()
	h.fast.RemoveAll()

	h.mu.Lock()
	h.hits = 0
	h.misses = 0
	h.mu.Unlock()
}

// SetLimits rebounds the authoritative tier and caps the fast tier's
// cost at a quarter of the new budget.
func (h *HybridCache) SetLimits(countLimit int, costLimit int64) {
	h.lru.SetLimits(countLimit, costLimit)
	if costLimit > 0 {
		h.fast.SetLimits(0, costLimit/4)
	}
}

// EvictToCost evicts in deterministic LRU order until under target.
func (h *HybridCache) EvictToCost(target int64) int {
	return h.lru.EvictToCost(target)
}

// Keys returns resident keys ordered most to least recently used.
func (h *HybridCache) Keys() []types.Key {
	return h.lru.Keys()
}

// Statistics reports composite hit/miss counters with residency and
// eviction figures from the authoritative tier.
func (h *HybridCache) Statistics() types.Statistics {
	lruStats := h.lru.Statistics()

	h.mu.Lock()
	hits, misses := h.hits, h.misses
	h.mu.Unlock()

	stats := types.Statistics{
		Hits:          hits,
		Misses:        misses,
		Evictions:     lruStats.Evictions,
		ResidentCount: lruStats.ResidentCount,
		MemoryBytes:   lruStats.MemoryBytes,
		CostLimit:     lruStats.CostLimit,
	}
	stats.HitRate = stats.ComputeHitRate()
	return stats
}

func (h *HybridCache) recordHit() {
	h.mu.Lock()
	h.hits++
	h.mu.Unlock()
}

func (h *HybridCache) recordMiss() {
	h.mu.Lock()
	h.misses++
	h.mu.Unlock()
}
