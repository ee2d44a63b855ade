package types

import (
	"context"
)

// EntryCache defines the bounded cache contract. Implementations own
// every Entry buffer stored in them; Get returns the entry for reading
// only and a reader must copy if it needs the pixels past eviction.
type EntryCache interface {
	// Get returns the entry for key, counting a hit or a miss. An
	// absent key is a miss, not an error.
	Get(key Key) (*Entry, bool)

	// Contains reports residency without touching hit/miss counters or
	// recency state.
	Contains(key Key) bool

	// Set stores the entry under its key. Set never fails: if the
	// write would exceed the configured limits, enough entries are
	// synchronously evicted first.
	Set(entry *Entry)

	// Remove drops the entry for key, reporting whether it was
	// resident.
	Remove(key Key) bool

	// RemoveAll drops every entry and resets the statistics counters.
	RemoveAll()

	// SetLimits replaces the count and cost bounds, evicting
	// immediately if the cache is over the new limits.
	SetLimits(countLimit int, costLimit int64)

	// EvictToCost evicts entries in the implementation's eviction
	// order until the resident cost is at or under target, returning
	// the number removed.
	EvictToCost(target int64) int

	// Statistics returns a snapshot of the counters.
	Statistics() Statistics
}

// Decoder is the image-decoding collaborator. Decode must be safe for
// concurrent use and should honor ctx cancellation.
type Decoder interface {
	Decode(ctx context.Context, item ItemDescriptor) (*ImageBuffer, error)
}

// ItemSource is an ordered collection of item descriptors with a stable
// length, indexable in O(1).
type ItemSource interface {
	Len() int
	At(index int) ItemDescriptor
}

// EventSink receives the structured observability events the core
// emits. Implementations must be cheap and must not call back into the
// core; some events fire from inside the serialized domain.
type EventSink interface {
	EntryEvicted(key Key, reason EvictReason)
	MemoryPressureHandled(removed int, newUsage int64)
	WindowResized(oldSize, newSize int)
}
