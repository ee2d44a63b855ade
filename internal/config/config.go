// Package config loads and validates the viewer configuration from
// YAML, with human-readable size strings for memory figures.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete viewer configuration.
type Configuration struct {
	Window     WindowConfig     `yaml:"window"`
	Cache      CacheConfig      `yaml:"cache"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Adaptive   AdaptiveConfig   `yaml:"adaptive"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// WindowConfig bounds the sliding window.
type WindowConfig struct {
	// Size is the configured maximum window radius; the effective
	// radius is derived from it and the collection length.
	Size int `yaml:"size"`

	// BufferMultiplier widens the retention boundary beyond the load
	// boundary to avoid eviction thrashing near the load edge.
	BufferMultiplier int `yaml:"buffer_multiplier"`
}

// CacheConfig bounds the entry cache tiers.
type CacheConfig struct {
	// MemoryBudget is the resident-cost ceiling, e.g. "512MB".
	MemoryBudget string `yaml:"memory_budget"`

	// MaxEntries caps the number of resident entries; 0 means
	// cost-bounded only.
	MaxEntries int `yaml:"max_entries"`

	// FastTierEntries caps the fast tier; 0 derives it from MaxEntries.
	FastTierEntries int `yaml:"fast_tier_entries"`
}

// SchedulerConfig bounds the load scheduler.
type SchedulerConfig struct {
	MaxConcurrentLoads int `yaml:"max_concurrent_loads"`
}

// AdaptiveConfig parameterizes the adaptive controller.
type AdaptiveConfig struct {
	Aggressive bool          `yaml:"aggressive"`
	Interval   time.Duration `yaml:"interval"`
}

// MonitoringConfig configures logging and the observability endpoint.
type MonitoringConfig struct {
	LogLevel         string `yaml:"log_level"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	ListenAddr       string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Configuration {
	return &Configuration{
		Window: WindowConfig{
			Size:             100,
			BufferMultiplier: 2,
		},
		Cache: CacheConfig{
			MemoryBudget: "512MB",
			MaxEntries:   2048,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentLoads: 4,
		},
		Adaptive: AdaptiveConfig{
			Aggressive: false,
			Interval:   30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			LogLevel:         "info",
			MetricsNamespace: "lumaview",
			ListenAddr:       "",
		},
	}
}

// Load reads a YAML configuration file, layering it over the defaults.
// The LOG_LEVEL environment variable overrides the configured level.
func Load(path string) (*Configuration, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Monitoring.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and size strings.
func (c *Configuration) Validate() error {
	if c.Window.Size < 1 {
		return fmt.Errorf("config: window.size must be positive, got %d", c.Window.Size)
	}
	if c.Window.BufferMultiplier < 1 {
		return fmt.Errorf("config: window.buffer_multiplier must be at least 1, got %d", c.Window.BufferMultiplier)
	}
	if c.Scheduler.MaxConcurrentLoads < 1 || c.Scheduler.MaxConcurrentLoads > 50 {
		return fmt.Errorf("config: scheduler.max_concurrent_loads must be in [1,50], got %d", c.Scheduler.MaxConcurrentLoads)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if _, err := ParseSize(c.Cache.MemoryBudget); err != nil {
		return fmt.Errorf("config: cache.memory_budget: %w", err)
	}
	if c.Adaptive.Interval < 0 {
		return fmt.Errorf("config: adaptive.interval must not be negative, got %s", c.Adaptive.Interval)
	}
	switch strings.ToLower(c.Monitoring.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: monitoring.log_level %q is not one of debug/info/warn/error", c.Monitoring.LogLevel)
	}
	return nil
}

// MemoryBudgetBytes returns the parsed memory budget.
func (c *Configuration) MemoryBudgetBytes() int64 {
	n, err := ParseSize(c.Cache.MemoryBudget)
	if err != nil {
		return 0
	}
	return n
}

// ParseSize converts a human-readable size string ("512MB", "2GB",
// "1024") to bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "TB"):
		multiplier = 1 << 40
		s = strings.TrimSuffix(s, "TB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size must not be negative, got %d", value)
	}
	return value * multiplier, nil
}
