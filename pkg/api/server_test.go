package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumaview/lumaview/internal/metrics"
	"github.com/lumaview/lumaview/internal/window"
	"github.com/lumaview/lumaview/pkg/types"
	"github.com/lumaview/lumaview/pkg/viewer"
)

type staticProvider struct {
	snap viewer.Snapshot
}

func (p *staticProvider) Snapshot() viewer.Snapshot { return p.snap }

func testProvider() *staticProvider {
	return &staticProvider{snap: viewer.Snapshot{
		Statistics: types.Statistics{Hits: 42, Misses: 8, ResidentCount: 11, MemoryBytes: 4096, HitRate: 0.84},
		Window: window.State{
			CurrentIndex:        150,
			CollectionLength:    5000,
			EffectiveWindowSize: 100,
		},
		Phase:    "stable",
		InFlight: 3,
	}}
}

func TestServer_Health(t *testing.T) {
	s := NewServer("127.0.0.1:0", testProvider(), nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_Stats(t *testing.T) {
	s := NewServer("127.0.0.1:0", testProvider(), nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap viewer.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))

	assert.Equal(t, uint64(42), snap.Statistics.Hits)
	assert.Equal(t, 150, snap.Window.CurrentIndex)
	assert.Equal(t, "stable", snap.Phase)
	assert.Equal(t, 3, snap.InFlight)
}

func TestServer_Metrics(t *testing.T) {
	collector := metrics.NewCollector("testapi")
	collector.RecordLookup(true)

	s := NewServer("127.0.0.1:0", testProvider(), collector.Registry(), nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "testapi_cache_lookups_total")
}

func TestServer_MetricsAbsentWithoutRegistry(t *testing.T) {
	s := NewServer("127.0.0.1:0", testProvider(), nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
