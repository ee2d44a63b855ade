package events

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumaview/lumaview/pkg/types"
)

type countingSink struct {
	mu                sync.Mutex
	evicted, pressure int
	resized           int
}

func (c *countingSink) EntryEvicted(types.Key, types.EvictReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted++
}

func (c *countingSink) MemoryPressureHandled(int, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressure++
}

func (c *countingSink) WindowResized(int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resized++
}

func TestFanoutForwardsToEverySink(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	fan := Fanout{a, b}

	fan.EntryEvicted(types.Key{ItemID: "x"}, types.EvictWindow)
	fan.MemoryPressureHandled(3, 1024)
	fan.WindowResized(100, 110)
	fan.EntryEvicted(types.Key{ItemID: "y"}, types.EvictCapacity)

	for _, sink := range []*countingSink{a, b} {
		assert.Equal(t, 2, sink.evicted)
		assert.Equal(t, 1, sink.pressure)
		assert.Equal(t, 1, sink.resized)
	}
}

func TestSlogSinkWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlog(logger)

	sink.EntryEvicted(types.Key{ItemID: "img-9", Variant: "thumb"}, types.EvictPressure)
	sink.MemoryPressureHandled(4, 2048)
	sink.WindowResized(50, 60)

	out := buf.String()
	assert.Contains(t, out, "img-9#thumb")
	assert.Contains(t, out, "pressure")
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, "60")
}

func TestNoopSinkIsSilent(t *testing.T) {
	var sink Noop
	// Must not panic; there is nothing else to observe.
	sink.EntryEvicted(types.Key{}, types.EvictClear)
	sink.MemoryPressureHandled(0, 0)
	sink.WindowResized(0, 0)
}
