package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]Event
	writeErr error
	closed   bool
}

func (f *fakeSink) Write(_ context.Context, batch []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Event, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return f.writeErr
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSink) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func testLogger() *telemetry.Logger {
	return telemetry.NewLoggerTo("metrics-test", io.Discard)
}

func TestCollectorFlushesAtBatchSize(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 3}, testLogger(), sink)

	c.Count("hook.completed", map[string]string{"hook": "pre-push"})
	c.Count("hook.completed", nil)
	assert.Zero(t, sink.batchCount(), "below threshold, nothing flushed")

	c.Count("hook.completed", nil)
	require.Equal(t, 1, sink.batchCount())
	assert.Equal(t, 3, sink.eventCount())
}

func TestCollectorForceFlush(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 100}, testLogger(), sink)

	c.Record("decision", 1, map[string]string{"action": "block"})
	c.Flush(context.Background())

	require.Equal(t, 1, sink.batchCount())
	assert.Equal(t, "decision", sink.batches[0][0].Name)
	assert.Equal(t, "block", sink.batches[0][0].Labels["action"])
}

func TestCollectorFlushEmptyBufferSkipsSinks(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 10}, testLogger(), sink)

	c.Flush(context.Background())
	assert.Zero(t, sink.batchCount())
}

func TestCollectorSinkErrorDoesNotStopOthers(t *testing.T) {
	broken := &fakeSink{writeErr: errors.New("gateway down")}
	healthy := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 1}, testLogger(), broken, healthy)

	c.Count("hook.completed", nil)

	assert.Equal(t, 1, broken.batchCount())
	assert.Equal(t, 1, healthy.batchCount())
}

func TestCollectorIntervalFlush(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 100, FlushIntervalMs: 20}, testLogger(), sink)
	defer func() { _ = c.Close() }()

	c.Count("hook.completed", nil)

	require.Eventually(t, func() bool { return sink.eventCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestCollectorCloseDrains(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(config.MetricsConfig{BatchSize: 100}, testLogger(), sink)

	c.Count("hook.completed", nil)
	c.Count("cache.hit", nil)
	require.NoError(t, c.Close())

	assert.Equal(t, 2, sink.eventCount())
	assert.True(t, sink.closed)
}

func TestFromConfigDisabled(t *testing.T) {
	c := FromConfig(config.MetricsConfig{Enabled: false}, testLogger())

	c.Count("hook.completed", nil)
	c.Flush(context.Background())
	assert.NoError(t, c.Close())
}

func TestFileSinkWritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	batch := []Event{
		{Name: "hook.completed", Timestamp: time.Now().UTC(), Value: 1, Labels: map[string]string{"hook": "pre-push"}},
		{Name: "decision", Timestamp: time.Now().UTC(), Value: 1, Labels: map[string]string{"action": "allow"}},
	}
	require.NoError(t, sink.Write(context.Background(), batch))
	require.NoError(t, sink.Close())

	files, err := filepath.Glob(filepath.Join(dir, "vahti-metrics-*.ndjson"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "hook.completed", ev.Name)
	assert.Equal(t, "pre-push", ev.Labels["hook"])
}

func TestFileSinkCloseWithoutWrites(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	assert.NoError(t, sink.Close())
}

func TestPushgatewaySink(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewPushgatewaySink(srv.URL, "vahti")
	err := sink.Write(context.Background(), []Event{
		{Name: "hook.completed", Timestamp: time.Now(), Value: 1},
	})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "/metrics/job/vahti")
	assert.NoError(t, sink.Close())
}
