package logstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/models"
)

func testArchive(t *testing.T, opts ...Option) (*Archive, string) {
	t.Helper()
	backingDir := t.TempDir()
	backing, err := NewFolderBacking(backingDir)
	require.NoError(t, err)
	archive, err := New(t.TempDir(), backing, opts...)
	require.NoError(t, err)
	return archive, backingDir
}

func testEntries() []models.LogEntry {
	base := time.Date(2026, 8, 24, 10, 0, 0, 123456789, time.UTC)
	return []models.LogEntry{
		{Timestamp: base, IsStderr: false, Message: "starting build"},
		{Timestamp: base.Add(time.Second), IsStderr: true, Message: "warning: cache cold"},
		{Timestamp: base.Add(2 * time.Second), IsStderr: false, Message: "done"},
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	archive, _ := testArchive(t)
	ctx := context.Background()
	entries := testEntries()

	require.NoError(t, archive.SaveLogs(ctx, "job-1", "", entries))
	require.NoError(t, archive.SaveLogs(ctx, "job-1", "compile", entries[:2]))

	it, err := archive.GetLogs(ctx, "job-1", "")
	require.NoError(t, err)
	got, err := it.All()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	it, err = archive.GetLogs(ctx, "job-1", "compile")
	require.NoError(t, err)
	got, err = it.All()
	require.NoError(t, err)
	assert.Equal(t, entries[:2], got)
}

func TestSaveAppendsAcrossBatches(t *testing.T) {
	archive, _ := testArchive(t)
	ctx := context.Background()
	entries := testEntries()

	require.NoError(t, archive.SaveLogs(ctx, "job-1", "", entries[:1]))
	require.NoError(t, archive.SaveLogs(ctx, "job-1", "", entries[1:]))

	it, err := archive.GetLogs(ctx, "job-1", "")
	require.NoError(t, err)
	got, err := it.All()
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestGetLogsMissing(t *testing.T) {
	archive, _ := testArchive(t)
	_, err := archive.GetLogs(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrLogsNotFound)
}

func TestArchiveRoundTripAfterCacheWipe(t *testing.T) {
	archive, backingDir := testArchive(t)
	ctx := context.Background()
	entries := testEntries()

	require.NoError(t, archive.SaveLogs(ctx, "job-1", "", entries))
	require.NoError(t, archive.SaveLogs(ctx, "job-1", "compile", entries[:2]))
	require.NoError(t, archive.JobDone(ctx, "job-1"))

	// The packed archive is in the backing store and the local tgz is
	// gone.
	_, err := os.Stat(filepath.Join(backingDir, "job-1.tgz"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive.cacheDir, "job-1.tgz"))
	assert.True(t, os.IsNotExist(err))

	// Wipe the cache entirely; reads must rehydrate from the backing
	// store.
	require.NoError(t, os.RemoveAll(archive.cacheDir))
	require.NoError(t, os.MkdirAll(archive.cacheDir, 0o755))

	it, err := archive.GetLogs(ctx, "job-1", "")
	require.NoError(t, err)
	got, err := it.All()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	it, err = archive.GetLogs(ctx, "job-1", "compile")
	require.NoError(t, err)
	got, err = it.All()
	require.NoError(t, err)
	assert.Equal(t, entries[:2], got)
}

func TestJobDoneWithoutLogs(t *testing.T) {
	archive, backingDir := testArchive(t)
	require.NoError(t, archive.JobDone(context.Background(), "ghost"))
	_, err := os.Stat(filepath.Join(backingDir, "ghost.tgz"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanCache(t *testing.T) {
	archive, _ := testArchive(t, WithRetention(time.Hour))
	ctx := context.Background()

	old := filepath.Join(archive.cacheDir, "old.jsonl")
	fresh := filepath.Join(archive.cacheDir, "fresh.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	require.NoError(t, archive.CleanCache(ctx))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
