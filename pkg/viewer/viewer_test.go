package viewer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/config"
	"github.com/lumaview/lumaview/pkg/types"
)

// photoSource is a fixed collection of synthetic photos.
type photoSource struct {
	length int
}

func (s *photoSource) Len() int { return s.length }

func (s *photoSource) At(i int) types.ItemDescriptor {
	return types.ItemDescriptor{
		ID:    fmt.Sprintf("photo-%04d", i),
		Path:  fmt.Sprintf("/photos/photo-%04d.jpg", i),
		Index: i,
	}
}

// markerDecoder produces a buffer whose first pixel byte is the item
// index, so tests can tell which image a lookup returned. An optional
// gate blocks decodes until released.
type markerDecoder struct {
	gate chan struct{}
}

func (d *markerDecoder) Decode(ctx context.Context, item types.ItemDescriptor) (*types.ImageBuffer, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pix := make([]byte, 64)
	pix[0] = byte(item.Index % 256)
	return &types.ImageBuffer{Width: 4, Height: 4, BytesPerPixel: 4, Pix: pix}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Configuration {
	cfg := config.Default()
	cfg.Window.Size = 5
	cfg.Cache.MemoryBudget = "1MB"
	cfg.Scheduler.MaxConcurrentLoads = 4
	return cfg
}

func newTestViewer(t *testing.T, length int, decoder types.Decoder) *Viewer {
	t.Helper()
	v, err := New(&photoSource{length: length}, decoder,
		WithConfiguration(testConfig()),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func waitSettled(t *testing.T, v *Viewer) {
	t.Helper()
	require.Eventually(t, func() bool {
		return v.Snapshot().InFlight == 0
	}, 10*time.Second, time.Millisecond)
}

func TestViewer_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, &markerDecoder{})
	assert.Error(t, err)

	_, err = New(&photoSource{length: 1}, nil)
	assert.Error(t, err)

	bad := config.Default()
	bad.Window.Size = 0
	_, err = New(&photoSource{length: 1}, &markerDecoder{}, WithConfiguration(bad))
	assert.Error(t, err)
}

func TestViewer_NavigateLoadsCurrentEntry(t *testing.T) {
	v := newTestViewer(t, 60, &markerDecoder{})

	require.NoError(t, v.NavigateTo(10))
	waitSettled(t, v)

	img, ok := v.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, byte(10), img.Pix[0])

	snap := v.Snapshot()
	assert.Equal(t, 10, snap.Window.CurrentIndex)
	assert.Equal(t, "stable", snap.Phase)
	// Load range [5,15] for a radius-5 window.
	assert.Equal(t, 11, snap.Statistics.ResidentCount)
}

func TestViewer_SequentialBrowsingHitsCache(t *testing.T) {
	v := newTestViewer(t, 60, &markerDecoder{})

	require.NoError(t, v.NavigateTo(10))
	waitSettled(t, v)

	for i := 11; i <= 15; i++ {
		require.NoError(t, v.NavigateTo(i))
		// Neighbors were prefetched by the previous navigation, so the
		// current entry is available without waiting.
		img, ok := v.CurrentEntry()
		require.True(t, ok, "index %d", i)
		assert.Equal(t, byte(i), img.Pix[0])
	}
	waitSettled(t, v)

	stats := v.Statistics()
	assert.Greater(t, stats.HitRate, 0.9)
}

func TestViewer_JumpShowsTargetNotOrigin(t *testing.T) {
	decoder := &markerDecoder{gate: make(chan struct{})}
	v := newTestViewer(t, 200, decoder)

	// Start loading around 10, then jump before anything lands.
	require.NoError(t, v.NavigateTo(10))
	require.NoError(t, v.CancelAllForJump(150))
	close(decoder.gate)
	waitSettled(t, v)

	img, ok := v.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, byte(150), img.Pix[0])

	snap := v.Snapshot()
	assert.Equal(t, 150, snap.Window.CurrentIndex)
	// Nothing outside the jump target's retain range is resident.
	assert.LessOrEqual(t, snap.Statistics.ResidentCount, 21)
}

func TestViewer_LoadErrorSurfaces(t *testing.T) {
	decoder := &failingDecoder{failIndex: 12}
	v := newTestViewer(t, 60, decoder)

	require.NoError(t, v.NavigateTo(12))
	waitSettled(t, v)

	require.Error(t, v.LoadError(12))
	assert.NoError(t, v.LoadError(11))

	_, ok := v.CurrentEntry()
	assert.False(t, ok)
}

// failingDecoder fails one index and succeeds elsewhere.
type failingDecoder struct {
	failIndex int
}

func (d *failingDecoder) Decode(ctx context.Context, item types.ItemDescriptor) (*types.ImageBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if item.Index == d.failIndex {
		return nil, &types.DecodeError{Item: item, Err: fmt.Errorf("simulated decode failure")}
	}
	pix := make([]byte, 64)
	pix[0] = byte(item.Index % 256)
	return &types.ImageBuffer{Width: 4, Height: 4, BytesPerPixel: 4, Pix: pix}, nil
}

func TestViewer_ConfigureValidatesAndApplies(t *testing.T) {
	v := newTestViewer(t, 60, &markerDecoder{})

	assert.Error(t, v.Configure(0, 1<<20, 4, false))
	assert.Error(t, v.Configure(5, -1, 4, false))
	assert.Error(t, v.Configure(5, 1<<20, 0, false))
	assert.Error(t, v.Configure(5, 1<<20, 51, false))

	require.NoError(t, v.Configure(8, 2<<20, 6, true))
	waitSettled(t, v)

	snap := v.Snapshot()
	assert.Equal(t, 8, snap.Window.ConfiguredWindowSize)
	assert.Equal(t, int64(2<<20), snap.Statistics.CostLimit)
}

func TestViewer_ConfigureKeepsEntryBound(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.MaxEntries = 2
	v, err := New(&photoSource{length: 60}, &markerDecoder{},
		WithConfiguration(cfg),
		WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	require.NoError(t, v.Configure(5, 1<<30, 4, false))

	// Reconfiguring the budget must not lift the entry-count bound the
	// viewer was built with.
	for i := 0; i < 5; i++ {
		v.cache.Set(types.NewEntry(
			types.Key{ItemID: fmt.Sprintf("extra-%d", i)},
			&types.ImageBuffer{Width: 4, Height: 4, BytesPerPixel: 4, Pix: make([]byte, 64)},
			types.PriorityNormal,
		))
	}
	assert.Equal(t, 2, v.cache.Statistics().ResidentCount)
}

func TestViewer_EventSinkReceivesEvictions(t *testing.T) {
	sink := &countingSink{}
	v, err := New(&photoSource{length: 1000}, &markerDecoder{},
		WithConfiguration(testConfig()),
		WithLogger(quietLogger()),
		WithEventSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	require.NoError(t, v.NavigateTo(100))
	waitSettled(t, v)
	require.NoError(t, v.NavigateTo(900))
	waitSettled(t, v)

	// The window around 100 fell out of the retain range.
	assert.Greater(t, sink.evicted(), 0)
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (c *countingSink) EntryEvicted(types.Key, types.EvictReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingSink) MemoryPressureHandled(int, int64) {}
func (c *countingSink) WindowResized(int, int)           {}

func (c *countingSink) evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestViewer_VariantSeparatesKeys(t *testing.T) {
	decoder := &markerDecoder{}
	v, err := New(&photoSource{length: 60}, decoder,
		WithConfiguration(testConfig()),
		WithLogger(quietLogger()),
		WithVariant("thumb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	require.NoError(t, v.NavigateTo(10))
	waitSettled(t, v)

	img, ok := v.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, byte(10), img.Pix[0])
}

func TestViewer_CloseIsIdempotent(t *testing.T) {
	v := newTestViewer(t, 60, &markerDecoder{})

	require.NoError(t, v.NavigateTo(10))
	waitSettled(t, v)

	assert.NoError(t, v.Close())
	assert.NoError(t, v.Close())
}
