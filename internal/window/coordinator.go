package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lumaview/lumaview/internal/sched"
	"github.com/lumaview/lumaview/pkg/types"
)

// Phase is the coordinator's navigation state. Navigating covers the
// synchronous recompute-and-dispatch step only; the loads it issues
// settle asynchronously.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNavigating
	PhaseStable
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNavigating:
		return "navigating"
	case PhaseStable:
		return "stable"
	default:
		return "unknown"
	}
}

// Cache is the coordinator's view of the entry cache: the bounded cache
// contract plus reason-attributed removal for window and pressure
// evictions.
type Cache interface {
	types.EntryCache
	RemoveWithReason(key types.Key, reason types.EvictReason) bool
}

// Coordinator owns the current position in the collection and the
// window of indices that should be resident. All window recomputation,
// eviction bookkeeping, and residency state mutate under one mutex;
// decode I/O never runs with that mutex held.
type Coordinator struct {
	cache   Cache
	source  types.ItemSource
	events  types.EventSink
	logger  *slog.Logger
	variant string

	mu        sync.Mutex
	scheduler *sched.Scheduler
	state     State
	phase     Phase

	resident map[int]types.Key
	inflight map[int]types.Key
	failures map[int]error

	// onSettled runs after every non-cancelled load completion, outside
	// the coordinator lock. The adaptive controller hangs off it.
	onSettled func()
}

// Config bundles the coordinator's construction parameters.
type Config struct {
	ConfiguredWindowSize int
	BufferMultiplier     int
	Variant              string
}

// NewCoordinator creates a coordinator over the given source. The
// effective window starts at the tier value for the source length.
func NewCoordinator(cache Cache, source types.ItemSource, events types.EventSink, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.BufferMultiplier < 1 {
		cfg.BufferMultiplier = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = noopSink{}
	}

	length := source.Len()
	return &Coordinator{
		cache:   cache,
		source:  source,
		events:  events,
		logger:  logger,
		variant: cfg.Variant,
		state: State{
			CurrentIndex:         -1,
			CollectionLength:     length,
			ConfiguredWindowSize: cfg.ConfiguredWindowSize,
			EffectiveWindowSize:  EffectiveWindowSize(cfg.ConfiguredWindowSize, length),
			BufferMultiplier:     cfg.BufferMultiplier,
		},
		phase:    PhaseIdle,
		resident: make(map[int]types.Key),
		inflight: make(map[int]types.Key),
		failures: make(map[int]error),
	}
}

// SetScheduler wires the load scheduler. Must be called before the
// first navigation; split from construction because the scheduler's
// completion callback points back at the coordinator.
func (c *Coordinator) SetScheduler(s *sched.Scheduler) {
	c.mu.Lock()
	c.scheduler = s
	c.mu.Unlock()
}

// SetOnSettled registers the hook run after each settled load.
func (c *Coordinator) SetOnSettled(fn func()) {
	c.mu.Lock()
	c.onSettled = fn
	c.mu.Unlock()
}

// NavigateTo moves the window to index i, evicting entries that fell
// outside the retain range, dispatching loads for newly in-window
// indices, and cancelling in-flight loads that left the load range.
// The recompute itself is synchronous; only the loads are not.
func (c *Coordinator) NavigateTo(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigateLocked(i, false)
}

// CancelAllForJump handles a programmatic jump (scrubber drag): every
// in-flight load is cancelled unconditionally before the window is
// recomputed for the new index, so a burst of stale loads cannot starve
// the ones the user now wants.
func (c *Coordinator) CancelAllForJump(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigateLocked(i, true)
}

func (c *Coordinator) navigateLocked(i int, jump bool) error {
	if c.scheduler == nil {
		return errors.New("window: no scheduler wired")
	}
	if i < 0 || i >= c.state.CollectionLength {
		return fmt.Errorf("window: index %d out of range [0,%d)", i, c.state.CollectionLength)
	}

	c.phase = PhaseNavigating
	if jump {
		c.scheduler.CancelAll()
		c.inflight = make(map[int]types.Key)
	}

	c.state.CurrentIndex = i
	c.recomputeLocked()
	c.phase = PhaseStable
	return nil
}

// recomputeLocked applies the current index and effective window size:
// ranges, evictions, dispatches, and cancellations.
func (c *Coordinator) recomputeLocked() {
	i := c.state.CurrentIndex
	if i < 0 {
		return
	}
	eff := c.state.EffectiveWindowSize
	length := c.state.CollectionLength

	c.state.LoadStart = maxInt(0, i-eff)
	c.state.LoadEnd = minInt(length-1, i+eff)

	retain := c.state.BufferMultiplier * eff
	c.state.RetainStart = maxInt(0, i-retain)
	c.state.RetainEnd = minInt(length-1, i+retain)

	// Evict residents that fell outside the retain range.
	for idx, key := range c.resident {
		if idx < c.state.RetainStart || idx > c.state.RetainEnd {
			c.cache.RemoveWithReason(key, types.EvictWindow)
			delete(c.resident, idx)
		}
	}

	// Failures recorded for indices that left the load range are
	// forgotten, so the index is retried when it re-enters the window.
	for idx := range c.failures {
		if idx < c.state.LoadStart || idx > c.state.LoadEnd {
			delete(c.failures, idx)
		}
	}

	// Dispatch nearest-first so priorities decay with distance.
	c.dispatchLocked(i)

	// Cancel in-flight loads that fell outside the load range.
	for idx, key := range c.inflight {
		if idx < c.state.LoadStart || idx > c.state.LoadEnd {
			c.scheduler.Cancel(key)
			delete(c.inflight, idx)
		}
	}
}

func (c *Coordinator) dispatchLocked(center int) {
	for d := 0; d <= c.state.EffectiveWindowSize; d++ {
		if idx := center - d; idx >= c.state.LoadStart {
			c.dispatchIndexLocked(idx, d)
		}
		if d == 0 {
			continue
		}
		if idx := center + d; idx <= c.state.LoadEnd {
			c.dispatchIndexLocked(idx, d)
		}
	}
}

func (c *Coordinator) dispatchIndexLocked(idx, distance int) {
	if _, ok := c.resident[idx]; ok {
		return
	}
	if _, ok := c.inflight[idx]; ok {
		return
	}
	if _, ok := c.failures[idx]; ok {
		return
	}

	item := c.source.At(idx)
	key := types.KeyFor(item, c.variant)
	if c.cache.Contains(key) {
		c.resident[idx] = key
		return
	}

	c.inflight[idx] = key
	c.scheduler.Schedule(key, item, types.PriorityForDistance(distance))
}

// OnLoadComplete is the scheduler's completion callback. Out-of-order
// completion is expected; a completion for an index that has since left
// the retain range is dropped rather than cached (the deterministic
// policy pinned by tests).
func (c *Coordinator) OnLoadComplete(key types.Key, item types.ItemDescriptor, img *types.ImageBuffer, err error) {
	idx := item.Index

	c.mu.Lock()
	if k, ok := c.inflight[idx]; ok && k == key {
		delete(c.inflight, idx)
	}

	settled := false
	switch {
	case errors.Is(err, context.Canceled):
		// Cancellation is control flow, not an outcome to report. If
		// the index is still wanted (a jump re-requested it while the
		// dying load was draining), issue a fresh load now that the
		// key is free again.
		if c.phase != PhaseIdle && idx >= c.state.LoadStart && idx <= c.state.LoadEnd {
			c.dispatchIndexLocked(idx, absInt(idx-c.state.CurrentIndex))
		}
	case err != nil:
		c.failures[idx] = err
		c.logger.Debug("load failed", "index", idx, "key", key.String(), "error", err)
		settled = true
	default:
		if idx >= c.state.RetainStart && idx <= c.state.RetainEnd {
			distance := absInt(idx - c.state.CurrentIndex)
			c.cache.Set(types.NewEntry(key, img, types.PriorityForDistance(distance)))
			c.resident[idx] = key
		}
		settled = true
	}
	onSettled := c.onSettled
	c.mu.Unlock()

	if settled && onSettled != nil {
		onSettled()
	}
}

// CurrentEntry returns the decoded buffer for the current index, if
// resident. The lookup counts as a cache hit or miss.
func (c *Coordinator) CurrentEntry() (*types.ImageBuffer, bool) {
	c.mu.Lock()
	i := c.state.CurrentIndex
	length := c.state.CollectionLength
	c.mu.Unlock()

	if i < 0 || i >= length {
		return nil, false
	}

	key := types.KeyFor(c.source.At(i), c.variant)
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return entry.Image, true
}

// LoadError returns the recorded decode failure for an index, if any,
// so the presentation layer can render a failed-state placeholder.
func (c *Coordinator) LoadError(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[idx]
}

// ReducePressure evicts resident entries farthest from the current
// index first until the cache cost is at or under target, returning the
// number removed.
func (c *Coordinator) ReducePressure(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	type candidate struct {
		idx int
		key types.Key
	}
	candidates := make([]candidate, 0, len(c.resident))
	for idx, key := range c.resident {
		candidates = append(candidates, candidate{idx: idx, key: key})
	}

	current := c.state.CurrentIndex
	// Farthest first; ties broken by index for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := absInt(candidates[i].idx-current), absInt(candidates[j].idx-current)
		if di != dj {
			return di > dj
		}
		return candidates[i].idx < candidates[j].idx
	})

	removed := 0
	for _, cand := range candidates {
		if c.cache.Statistics().MemoryBytes <= target {
			break
		}
		if c.cache.RemoveWithReason(cand.key, types.EvictPressure) {
			removed++
		}
		delete(c.resident, cand.idx)
	}

	// Stragglers outside the resident map (kept entries the coordinator
	// no longer tracks) go through the cache's own eviction order.
	if c.cache.Statistics().MemoryBytes > target {
		removed += c.cache.EvictToCost(target)
	}

	return removed
}

// GrowWindow widens the effective window by increment, capped at the
// configured size, and re-runs the window recompute.
func (c *Coordinator) GrowWindow(increment int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.state.EffectiveWindowSize
	grown := minInt(c.state.ConfiguredWindowSize, old+increment)
	if grown == old {
		return
	}

	c.state.EffectiveWindowSize = grown
	c.events.WindowResized(old, grown)
	c.recomputeLocked()
}

// SetConfiguredWindowSize replaces the configured maximum and resets
// the effective window to the tier value for the collection length.
func (c *Coordinator) SetConfiguredWindowSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ConfiguredWindowSize = size
	old := c.state.EffectiveWindowSize
	eff := EffectiveWindowSize(size, c.state.CollectionLength)
	if eff != old {
		c.state.EffectiveWindowSize = eff
		c.events.WindowResized(old, eff)
	}
	c.recomputeLocked()
}

// EffectiveWindowSize returns the current effective window radius.
func (c *Coordinator) EffectiveWindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.EffectiveWindowSize
}

// ConfiguredWindowSize returns the configured maximum window radius.
func (c *Coordinator) ConfiguredWindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ConfiguredWindowSize
}

// WindowState returns a snapshot of the window geometry.
func (c *Coordinator) WindowState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentPhase returns the navigation phase.
func (c *Coordinator) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// InFlightCount returns the number of loads the coordinator is waiting
// on. Used by tests and the stats endpoint.
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// ResidentIndices returns the indices the coordinator believes
// resident, unordered.
func (c *Coordinator) ResidentIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.resident))
	for idx := range c.resident {
		out = append(out, idx)
	}
	return out
}

type noopSink struct{}

func (noopSink) EntryEvicted(types.Key, types.EvictReason) {}
func (noopSink) MemoryPressureHandled(int, int64)          {}
func (noopSink) WindowResized(int, int)                    {}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
