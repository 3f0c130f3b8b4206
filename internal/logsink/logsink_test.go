package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/models"
)

// recordingServer captures every log batch and status post it receives.
type recordingServer struct {
	mu      sync.Mutex
	batches []batch
	posts   []string
	fail    bool
}

type batch struct {
	path    string
	entries []models.LogEntry
}

func (s *recordingServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/logs") {
			var entries []models.LogEntry
			_ = json.NewDecoder(r.Body).Decode(&entries)
			s.batches = append(s.batches, batch{path: r.URL.Path, entries: entries})
		} else {
			s.posts = append(s.posts, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func (s *recordingServer) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *recordingServer) snapshot() ([]batch, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]batch(nil), s.batches...), append([]string(nil), s.posts...)
}

func entry(msg string) models.LogEntry {
	return models.LogEntry{Timestamp: time.Now().UTC(), Message: msg}
}

func TestRemoteSinkBatchBySize(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(3), WithIdleInterval(time.Minute))
	for i := 0; i < 3; i++ {
		sink.Log(entry("line"))
	}
	require.NoError(t, sink.Flush(context.Background()))

	batches, _ := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "/jobs/job-1/logs", batches[0].path)
	assert.Len(t, batches[0].entries, 3)

	require.NoError(t, sink.Close())
}

func TestRemoteSinkFlushOnIdle(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(100), WithIdleInterval(50*time.Millisecond))
	defer sink.Close()

	sink.Log(entry("only line"))

	require.Eventually(t, func() bool {
		batches, _ := rec.snapshot()
		return len(batches) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteSinkRoutesByStep(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(100), WithIdleInterval(time.Minute))

	sink.Log(entry("job scope"))
	sink.SetStepName("build")
	sink.Log(entry("step scope 1"))
	sink.Log(entry("step scope 2"))
	require.NoError(t, sink.Close())

	batches, _ := rec.snapshot()
	require.Len(t, batches, 2)
	assert.Equal(t, "/jobs/job-1/logs", batches[0].path)
	assert.Len(t, batches[0].entries, 1)
	assert.Equal(t, "/jobs/job-1/steps/build/logs", batches[1].path)
	assert.Len(t, batches[1].entries, 2)
}

func TestRemoteSinkStoreResultsFlushesFirst(t *testing.T) {
	t.Parallel()

	var order []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(100), WithIdleInterval(time.Minute))
	defer sink.Close()

	sink.SetStepName("build")
	sink.Log(entry("line"))
	require.NoError(t, sink.StoreResults(context.Background(), models.JobResult{Success: true}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"/jobs/job-1/steps/build/logs",
		"/jobs/job-1/steps/build/results",
	}, order)
}

func TestRemoteSinkMarkStartRouting(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1")
	defer sink.Close()

	require.NoError(t, sink.MarkStart(context.Background(), time.Now().UTC(), nil))
	sink.SetStepName("build")
	require.NoError(t, sink.MarkStart(context.Background(), time.Now().UTC(), map[string]string{"k": "v"}))

	_, posts := rec.snapshot()
	require.Equal(t, []string{
		"/jobs/job-1/start",
		"/jobs/job-1/steps/build/start",
	}, posts)
}

func TestRemoteSinkDeliveryFailureNotPropagated(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{fail: true}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(1), WithIdleInterval(time.Minute))

	sink.Log(entry("lost line"))
	require.NoError(t, sink.Flush(context.Background()))
	require.NoError(t, sink.Close())
}

func TestRemoteSinkFailedBatchRetriedOnNextFlush(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{fail: true}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1",
		WithBufferSize(100), WithIdleInterval(time.Minute))
	defer sink.Close()

	sink.Log(entry("first"))
	sink.Log(entry("second"))
	require.NoError(t, sink.Flush(context.Background()))

	rec.setFail(false)
	sink.Log(entry("third"))
	require.NoError(t, sink.Flush(context.Background()))

	batches, _ := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].entries, 3)
}

func TestRemoteSinkLogAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	rec := &recordingServer{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	sink := NewRemote(context.Background(), client.New(srv.URL), "job-1", "worker-1")
	require.NoError(t, sink.Close())

	sink.Log(entry("late"))
	require.NoError(t, sink.Flush(context.Background()))

	batches, _ := rec.snapshot()
	assert.Empty(t, batches)
}

func TestConsoleSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleWriter(&buf)

	now := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)
	require.NoError(t, sink.MarkStart(context.Background(), now, map[string]string{"name": "world"}))
	sink.Log(models.LogEntry{Timestamp: now, Message: "hello"})
	sink.Log(models.LogEntry{Timestamp: now, Message: "oops", IsStderr: true})

	sink.SetStepName("greet")
	require.NoError(t, sink.MarkStart(context.Background(), now, nil))
	require.NoError(t, sink.StoreResults(context.Background(), models.JobResult{
		Success:       true,
		StartDatetime: now,
		EndDatetime:   now.Add(time.Second),
		Output:        map[string]any{"x": 7},
	}))

	out := buf.String()
	assert.Contains(t, out, "── run ──")
	assert.Contains(t, out, `input: {"name":"world"}`)
	assert.Contains(t, out, "12:30:45 hello")
	assert.Contains(t, out, "oops")
	assert.Contains(t, out, "── step greet ──")
	assert.Contains(t, out, "step greet")
	assert.Contains(t, out, `output: {"x":7}`)
}
