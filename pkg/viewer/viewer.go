// Package viewer wires the cache core together behind the surface the
// presentation layer consumes: navigation, the current entry, jump
// cancellation, statistics, and reconfiguration.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lumaview/lumaview/internal/adaptive"
	"github.com/lumaview/lumaview/internal/cache"
	"github.com/lumaview/lumaview/internal/config"
	"github.com/lumaview/lumaview/internal/events"
	"github.com/lumaview/lumaview/internal/metrics"
	"github.com/lumaview/lumaview/internal/sched"
	"github.com/lumaview/lumaview/internal/window"
	"github.com/lumaview/lumaview/pkg/types"
)

// Viewer composes the bounded cache, the sliding-window coordinator,
// the load scheduler, and the adaptive controller over one ordered item
// source.
type Viewer struct {
	logger    *slog.Logger
	cache     *cache.HybridCache
	coord     *window.Coordinator
	scheduler *sched.Scheduler
	adaptive  *adaptive.Controller
	collector *metrics.Collector

	// maxEntries is the construction-time entry-count bound; Configure
	// replaces the cost budget but keeps this bound in place.
	maxEntries int

	mu       sync.Mutex
	stopLoop context.CancelFunc
	closed   bool
}

// Option customizes viewer construction.
type Option func(*options)

type options struct {
	cfg     *config.Configuration
	logger  *slog.Logger
	sinks   []types.EventSink
	variant string
}

// WithConfiguration supplies a full configuration instead of defaults.
func WithConfiguration(cfg *config.Configuration) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger supplies the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventSink adds a consumer for the observability stream. May be
// given multiple times.
func WithEventSink(sink types.EventSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sink) }
}

// WithVariant selects the quality/size variant tag baked into every
// cache key.
func WithVariant(variant string) Option {
	return func(o *options) { o.variant = variant }
}

// New builds a viewer over the source, decoding through decoder.
func New(source types.ItemSource, decoder types.Decoder, opts ...Option) (*Viewer, error) {
	if source == nil {
		return nil, errors.New("viewer: nil item source")
	}
	if decoder == nil {
		return nil, errors.New("viewer: nil decoder")
	}

	o := &options{cfg: config.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(o.cfg.Monitoring.LogLevel)
	}

	collector := metrics.NewCollector(o.cfg.Monitoring.MetricsNamespace)
	sink := events.Fanout(append([]types.EventSink{collector.EventSink()}, o.sinks...))

	budget := o.cfg.MemoryBudgetBytes()
	hybrid, err := cache.NewHybridCache(cache.HybridConfig{
		CountLimit: o.cfg.Cache.MaxEntries,
		CostLimit:  budget,
		FastCount:  o.cfg.Cache.FastTierEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("viewer: build cache: %w", err)
	}
	hybrid.OnEvict(sink.EntryEvicted)

	coord := window.NewCoordinator(hybrid, source, sink, logger, window.Config{
		ConfiguredWindowSize: o.cfg.Window.Size,
		BufferMultiplier:     o.cfg.Window.BufferMultiplier,
		Variant:              o.variant,
	})

	v := &Viewer{
		logger:     logger,
		cache:      hybrid,
		coord:      coord,
		collector:  collector,
		maxEntries: o.cfg.Cache.MaxEntries,
	}

	instrumented := &instrumentedDecoder{inner: decoder, collector: collector}
	v.scheduler = sched.New(instrumented, o.cfg.Scheduler.MaxConcurrentLoads, v.onLoadComplete)
	coord.SetScheduler(v.scheduler)

	ctrl := adaptive.New(hybrid, coord, sink, logger, adaptive.Config{
		MaxMemoryBudget: budget,
		Aggressive:      o.cfg.Adaptive.Aggressive,
		Interval:        o.cfg.Adaptive.Interval,
	})
	v.adaptive = ctrl
	coord.SetOnSettled(ctrl.OnLoadComplete)

	loopCtx, cancel := context.WithCancel(context.Background())
	v.stopLoop = cancel
	go ctrl.Run(loopCtx)

	logger.Info("viewer ready",
		"collection_length", source.Len(),
		"window_size", o.cfg.Window.Size,
		"memory_budget", budget,
		"max_concurrent_loads", o.cfg.Scheduler.MaxConcurrentLoads)

	return v, nil
}

// NavigateTo moves the window to index i. The recompute is synchronous;
// the loads it dispatches are not.
func (v *Viewer) NavigateTo(i int) error {
	return v.coord.NavigateTo(i)
}

// CancelAllForJump cancels every in-flight load, then navigates to i.
// Used for scrubber drags, where stale loads would starve wanted ones.
func (v *Viewer) CancelAllForJump(i int) error {
	return v.coord.CancelAllForJump(i)
}

// CurrentEntry returns the decoded buffer at the current index, if
// resident. The buffer is cache-owned: copy it to keep it past the
// entry's eviction.
func (v *Viewer) CurrentEntry() (*types.ImageBuffer, bool) {
	img, ok := v.coord.CurrentEntry()
	v.collector.RecordLookup(ok)
	return img, ok
}

// LoadError returns the recorded decode failure for an index, if any.
func (v *Viewer) LoadError(i int) error {
	return v.coord.LoadError(i)
}

// Statistics returns a snapshot of the cache counters.
func (v *Viewer) Statistics() types.Statistics {
	return v.cache.Statistics()
}

// Configure replaces the tunables at runtime. The entry-count bound is
// fixed at construction and carried across reconfiguration.
func (v *Viewer) Configure(windowSize int, memoryBudget int64, maxConcurrency int, aggressive bool) error {
	if windowSize < 1 {
		return fmt.Errorf("viewer: window size must be positive, got %d", windowSize)
	}
	if memoryBudget < 0 {
		return fmt.Errorf("viewer: memory budget must not be negative, got %d", memoryBudget)
	}
	if maxConcurrency < 1 || maxConcurrency > 50 {
		return fmt.Errorf("viewer: max concurrency must be in [1,50], got %d", maxConcurrency)
	}

	v.cache.SetLimits(v.maxEntries, memoryBudget)
	v.coord.SetConfiguredWindowSize(windowSize)
	v.scheduler.SetMaxConcurrent(maxConcurrency)
	v.adaptive.SetBudget(memoryBudget)
	v.adaptive.SetAggressive(aggressive)
	return nil
}

// Snapshot bundles the observable state for the stats endpoint.
type Snapshot struct {
	Statistics types.Statistics `json:"statistics"`
	Window     window.State     `json:"window"`
	Phase      string           `json:"phase"`
	InFlight   int              `json:"in_flight"`
}

// Snapshot returns the current observable state.
func (v *Viewer) Snapshot() Snapshot {
	return Snapshot{
		Statistics: v.cache.Statistics(),
		Window:     v.coord.WindowState(),
		Phase:      v.coord.CurrentPhase().String(),
		InFlight:   v.coord.InFlightCount(),
	}
}

// MetricsCollector exposes the Prometheus collector for HTTP exposure.
func (v *Viewer) MetricsCollector() *metrics.Collector {
	return v.collector
}

// Close stops the adaptive loop and cancels every in-flight load.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	stop := v.stopLoop
	v.mu.Unlock()

	stop()
	v.scheduler.Close()
	return nil
}

// onLoadComplete forwards completions to the coordinator and keeps the
// load gauges in step.
func (v *Viewer) onLoadComplete(key types.Key, item types.ItemDescriptor, img *types.ImageBuffer, err error) {
	v.coord.OnLoadComplete(key, item, img, err)
	v.collector.SetInFlight(v.scheduler.ActiveCount() + v.scheduler.PendingCount())
	v.collector.ObserveStatistics(v.cache.Statistics())
}

// instrumentedDecoder times decodes and counts failures around the
// wrapped collaborator.
type instrumentedDecoder struct {
	inner     types.Decoder
	collector *metrics.Collector
}

func (d *instrumentedDecoder) Decode(ctx context.Context, item types.ItemDescriptor) (*types.ImageBuffer, error) {
	start := time.Now()
	img, err := d.inner.Decode(ctx, item)
	switch {
	case err == nil:
		d.collector.ObserveLoadDuration(time.Since(start))
	case errors.Is(err, context.Canceled):
		// Cancellation is not a failure.
	default:
		d.collector.RecordLoadFailure()
	}
	return img, err
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(h)
}
