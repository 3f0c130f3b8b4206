package workspace

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/tarball"
)

type workspaceServer struct {
	mu       sync.Mutex
	revision string
	body     []byte
	gets     int
}

func (s *workspaceServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/workspace.tar.gz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.mu.Lock()
		revision, body := s.revision, s.body
		if r.Method == http.MethodGet {
			s.gets++
		}
		s.mu.Unlock()

		w.Header().Set(models.HeaderRevision, revision)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(body)
	})
}

func (s *workspaceServer) set(revision string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision = revision
	s.body = body
}

func (s *workspaceServer) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func packTree(t *testing.T, files map[string]string) []byte {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files)
	var buf bytes.Buffer
	require.NoError(t, tarball.PackDir(context.Background(), &buf, dir))
	return buf.Bytes()
}

func TestPullerFirstPull(t *testing.T) {
	t.Parallel()

	ws := &workspaceServer{}
	ws.set("rev-1", packTree(t, map[string]string{"a.yaml": "value: 1\n"}))
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "workspace")
	puller := NewPuller(client.New(srv.URL), dir)

	rev, err := puller.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rev-1", rev)
	assert.Equal(t, 1, ws.getCount())

	data, err := os.ReadFile(filepath.Join(dir, "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "value: 1\n", string(data))

	sidecar, err := os.ReadFile(filepath.Join(dir, revisionFile))
	require.NoError(t, err)
	assert.Equal(t, "rev-1\n", string(sidecar))
}

func TestPullerSkipsMatchingRevision(t *testing.T) {
	t.Parallel()

	ws := &workspaceServer{}
	ws.set("rev-1", packTree(t, map[string]string{"a.yaml": "value: 1\n"}))
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "workspace")
	puller := NewPuller(client.New(srv.URL), dir)

	ctx := context.Background()
	_, err := puller.Pull(ctx)
	require.NoError(t, err)

	rev, err := puller.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", rev)
	assert.Equal(t, 1, ws.getCount(), "matching revision should skip the download")
}

func TestPullerSyncsNewRevision(t *testing.T) {
	t.Parallel()

	ws := &workspaceServer{}
	ws.set("rev-1", packTree(t, map[string]string{"a.yaml": "value: 1\n"}))
	srv := httptest.NewServer(ws.handler())
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "workspace")
	puller := NewPuller(client.New(srv.URL), dir)

	ctx := context.Background()
	_, err := puller.Pull(ctx)
	require.NoError(t, err)

	ws.set("rev-2", packTree(t, map[string]string{"a.yaml": "value: 2\n"}))

	rev, err := puller.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rev-2", rev)
	assert.Equal(t, 2, ws.getCount())

	data, err := os.ReadFile(filepath.Join(dir, "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "value: 2\n", string(data))

	sidecar, err := os.ReadFile(filepath.Join(dir, revisionFile))
	require.NoError(t, err)
	assert.Equal(t, "rev-2\n", string(sidecar))
}
