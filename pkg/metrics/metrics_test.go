package metrics

import (
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/registry"
	"github.com/willibrandon/dyno/pkg/tracker"
)

func TestCollector_Observe(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.Observe(recorder.Event{Type: recorder.Allocation, Size: 16, Live: 1, LiveBytes: 16})
	c.Observe(recorder.Event{Type: recorder.Allocation, Size: 32, Live: 2, LiveBytes: 48})
	c.Observe(recorder.Event{Type: recorder.CapacityExceeded, Size: 8, Live: 2, LiveBytes: 48})
	c.Observe(recorder.Event{Type: recorder.Deallocation, Size: 16, Live: 1, LiveBytes: 32})
	c.Observe(recorder.Event{Type: recorder.SnapshotEvent, Live: 1, LiveBytes: 32})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.allocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frees))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.capacityExceeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.liveAllocations))
	assert.Equal(t, 32.0, testutil.ToFloat64(c.liveBytes))
}

func TestCollector_ObserveSnapshot(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveSnapshot([]registry.Record{{Address: 0x10, Size: 100}, {Address: 0x20, Size: 28}})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.liveAllocations))
	assert.Equal(t, 128.0, testutil.ToFloat64(c.liveBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.allocations))
}

func TestCollector_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestCollector_AsTrackerObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	tr, err := tracker.New(
		tracker.WithPath(filepath.Join(t.TempDir(), "mem.txt")),
		tracker.WithLogger(zerolog.Nop()),
		tracker.WithObserver(c),
	)
	require.NoError(t, err)
	defer tr.Close()

	a, err := tr.Allocate(10)
	require.NoError(t, err)
	_, err = tr.Allocate(20)
	require.NoError(t, err)
	require.NoError(t, tr.Free(a))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.allocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frees))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.liveBytes))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dyno_live_allocations 1")
	assert.Contains(t, string(body), "dyno_frees_total 1")
}
