package types

import (
	"fmt"
)

// Key identifies a loadable item in the cache. It is derived from the
// item's stable identifier plus an optional variant tag (thumbnail,
// preview, full), so the same item can be cached at several qualities.
type Key struct {
	ItemID  string `json:"item_id"`
	Variant string `json:"variant,omitempty"`
}

func (k Key) String() string {
	if k.Variant == "" {
		return k.ItemID
	}
	return k.ItemID + "#" + k.Variant
}

// Priority is an eviction-resistance and scheduling hint, not a hard
// ordering guarantee.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PriorityForDistance maps distance from the current index to a load
// priority. The entry under the cursor is critical; priority decays as
// the distance grows. The thresholds are tuning parameters.
func PriorityForDistance(distance int) Priority {
	switch {
	case distance == 0:
		return PriorityCritical
	case distance <= 2:
		return PriorityHigh
	case distance <= 8:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// ImageBuffer holds one decoded image. Buffers are never mutated after
// creation; any transformation produces a new buffer under a new key.
type ImageBuffer struct {
	Width         int
	Height        int
	BytesPerPixel int
	Pix           []byte
}

// EstimatedCost approximates the buffer's memory footprint as
// width x height x bytesPerPixel. It is an accounting figure, not an
// allocator-exact measurement.
func (b *ImageBuffer) EstimatedCost() int64 {
	return int64(b.Width) * int64(b.Height) * int64(b.BytesPerPixel)
}

// Entry is one cached image plus its accounting metadata. The cache
// exclusively owns the buffer; consumers must not retain it past the
// entry's eviction.
type Entry struct {
	Key      Key
	Image    *ImageBuffer
	Cost     int64
	Priority Priority
}

// NewEntry builds an entry for a decoded buffer, deriving the cost from
// the buffer dimensions.
func NewEntry(key Key, img *ImageBuffer, priority Priority) *Entry {
	return &Entry{
		Key:      key,
		Image:    img,
		Cost:     img.EstimatedCost(),
		Priority: priority,
	}
}

// Statistics holds monotonically accumulating cache counters. Counters
// reset only on an explicit cache clear.
type Statistics struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	ResidentCount int     `json:"resident_count"`
	MemoryBytes   int64   `json:"memory_bytes"`
	CostLimit     int64   `json:"cost_limit"`
	HitRate       float64 `json:"hit_rate"`
}

// ComputeHitRate returns hits/(hits+misses), 0.0 when no lookups have
// happened yet.
func (s Statistics) ComputeHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total)
}

// EvictReason says why an entry left the cache.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity" // cost or count limit exceeded
	EvictWindow   EvictReason = "window"   // fell outside the retain range
	EvictPressure EvictReason = "pressure" // emergency memory-pressure cleanup
	EvictExplicit EvictReason = "explicit" // removed by the consumer
	EvictClear    EvictReason = "clear"    // cache-wide clear
)

// ItemDescriptor is an opaque handle to one item of the ordered
// collection. The core never interprets Path; it is passed through to
// the decoder.
type ItemDescriptor struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Index int    `json:"index"`
}

// KeyFor derives the cache key for an item at a given variant.
func KeyFor(item ItemDescriptor, variant string) Key {
	return Key{ItemID: item.ID, Variant: variant}
}

// DecodeError reports a per-item decode or I/O failure. It is non-fatal:
// the item stays absent from the cache and sibling loads proceed.
type DecodeError struct {
	Item ItemDescriptor
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Item.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
