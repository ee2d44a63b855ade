// Package events provides EventSink implementations for the core's
// observability stream: a no-op sink, a slog-backed sink, and a fan-out
// combinator.
package events

import (
	"log/slog"

	"github.com/lumaview/lumaview/pkg/types"
)

// Noop discards every event.
type Noop struct{}

func (Noop) EntryEvicted(types.Key, types.EvictReason) {}
func (Noop) MemoryPressureHandled(int, int64)          {}
func (Noop) WindowResized(int, int)                    {}

// Slog logs each event as a structured record.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a sink logging to the given logger. A nil logger
// falls back to slog.Default.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (s *Slog) EntryEvicted(key types.Key, reason types.EvictReason) {
	s.logger.Debug("entry evicted", "key", key.String(), "reason", string(reason))
}

func (s *Slog) MemoryPressureHandled(removed int, newUsage int64) {
	s.logger.Info("memory pressure handled", "removed", removed, "new_usage", newUsage)
}

func (s *Slog) WindowResized(oldSize, newSize int) {
	s.logger.Info("window resized", "old", oldSize, "new", newSize)
}

// Fanout forwards each event to every sink in order.
type Fanout []types.EventSink

func (f Fanout) EntryEvicted(key types.Key, reason types.EvictReason) {
	for _, s := range f {
		s.EntryEvicted(key, reason)
	}
}

func (f Fanout) MemoryPressureHandled(removed int, newUsage int64) {
	for _, s := range f {
		s.MemoryPressureHandled(removed, newUsage)
	}
}

func (f Fanout) WindowResized(oldSize, newSize int) {
	for _, s := range f {
		s.WindowResized(oldSize, newSize)
	}
}

var (
	_ types.EventSink = Noop{}
	_ types.EventSink = (*Slog)(nil)
	_ types.EventSink = Fanout(nil)
)
