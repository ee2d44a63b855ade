// Package adaptive tunes the window size and handles memory pressure.
// The controller inspects hit-rate and memory statistics after every
// settled load and on a fixed interval, growing the window when it is
// starving and triggering emergency eviction when the resident cost
// exceeds the budget.
package adaptive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumaview/lumaview/pkg/types"
)

// Window growth increments: a small step when the hit rate is poor, a
// larger one when memory is clearly available.
const (
	growHitRate = 10
	growMemory  = 20

	hitRateFloor = 0.7
)

// Tuner is the coordinator surface the controller drives.
type Tuner interface {
	ReducePressure(target int64) int
	GrowWindow(increment int)
	EffectiveWindowSize() int
	ConfiguredWindowSize() int
}

// StatsSource supplies the cache statistics the controller reads.
type StatsSource interface {
	Statistics() types.Statistics
}

// Config parameterizes the controller.
type Config struct {
	// MaxMemoryBudget is the resident-cost ceiling in bytes. Zero
	// disables pressure handling.
	MaxMemoryBudget int64

	// Aggressive selects the pressure target: budget/2 when set,
	// budget*3/4 otherwise.
	Aggressive bool

	// Interval is the periodic evaluation cadence. Defaults to 30s.
	Interval time.Duration
}

// Controller implements the adaptive loop.
type Controller struct {
	stats  StatsSource
	tuner  Tuner
	events types.EventSink
	logger *slog.Logger

	mu  sync.Mutex
	cfg Config
}

// New creates a controller. events may be nil.
func New(stats StatsSource, tuner Tuner, events types.EventSink, logger *slog.Logger, cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		stats:  stats,
		tuner:  tuner,
		events: events,
		logger: logger,
		cfg:    cfg,
	}
}

// OnLoadComplete is hooked to the coordinator's settled-load path.
func (c *Controller) OnLoadComplete() {
	c.Evaluate()
}

// Run evaluates on the configured interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	interval := c.cfg.Interval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Evaluate()
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate runs one adaptive pass: pressure recovery first, then window
// growth. Exactly one growth rule fires per pass; the hit-rate rule has
// precedence. The controller never shrinks the window below the tier
// value the coordinator derived from the collection length.
func (c *Controller) Evaluate() {
	c.mu.Lock()
	budget := c.cfg.MaxMemoryBudget
	aggressive := c.cfg.Aggressive
	c.mu.Unlock()

	stats := c.stats.Statistics()

	if budget > 0 && stats.MemoryBytes > budget {
		target := budget * 3 / 4
		if aggressive {
			target = budget / 2
		}

		removed := c.tuner.ReducePressure(target)
		newUsage := c.stats.Statistics().MemoryBytes

		if c.events != nil {
			c.events.MemoryPressureHandled(removed, newUsage)
		}
		c.logger.Info("memory pressure handled",
			"removed", removed,
			"usage_before", stats.MemoryBytes,
			"usage_after", newUsage,
			"budget", budget,
			"aggressive", aggressive)

		stats = c.stats.Statistics()
	}

	effective := c.tuner.EffectiveWindowSize()
	configured := c.tuner.ConfiguredWindowSize()
	if effective >= configured {
		return
	}

	switch {
	case stats.HitRate < hitRateFloor:
		// A zero-lookup pass reads a hit rate of 0.0, which is below
		// the floor: the window grows by the small step until lookups
		// start informing the rate.
		c.tuner.GrowWindow(growHitRate)
	case budget > 0 && stats.MemoryBytes < budget/2:
		c.tuner.GrowWindow(growMemory)
	}
}

// SetBudget replaces the memory budget.
func (c *Controller) SetBudget(budget int64) {
	c.mu.Lock()
	c.cfg.MaxMemoryBudget = budget
	c.mu.Unlock()
}

// SetAggressive toggles aggressive pressure recovery.
func (c *Controller) SetAggressive(aggressive bool) {
	c.mu.Lock()
	c.cfg.Aggressive = aggressive
	c.mu.Unlock()
}

// Budget returns the configured memory budget.
func (c *Controller) Budget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MaxMemoryBudget
}
