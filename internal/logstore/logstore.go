// Package logstore is the durable side of the log pipeline: an NDJSON
// cache on local disk, packed per job into a tarball and shipped to a
// backing store once the job finishes. Reads stream from the cache and
// rehydrate it from the backing store on demand.
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/tarball"
)

// ErrLogsNotFound is returned when neither the cache nor the backing
// store has logs for the requested job or step.
var ErrLogsNotFound = errors.New("logs not found")

// defaultRetention is how long finished jobs stay in the local cache.
const defaultRetention = 15 * 24 * time.Hour

// Archive owns the local log cache and its backing store.
type Archive struct {
	cacheDir  string
	backing   Backing
	retention time.Duration
}

// Option configures an Archive.
type Option func(*Archive)

// WithRetention overrides the cache retention window.
func WithRetention(d time.Duration) Option {
	return func(a *Archive) { a.retention = d }
}

// New creates the archive, ensuring the cache directory exists.
func New(cacheDir string, backing Backing, opts ...Option) (*Archive, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log cache directory: %w", err)
	}
	a := &Archive{cacheDir: cacheDir, backing: backing, retention: defaultRetention}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// logPath returns the cache file for a job (step == "") or a step.
func (a *Archive) logPath(job, step string) string {
	if step == "" {
		return filepath.Join(a.cacheDir, job+".jsonl")
	}
	return filepath.Join(a.cacheDir, job+"_"+step+".jsonl")
}

// SaveLogs appends entries to the cache file under an exclusive lock.
func (a *Archive) SaveLogs(ctx context.Context, job, step string, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	path := a.logPath(job, step)

	lock := flock.New(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock log file %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	enc := json.NewEncoder(file)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("append log entry: %w", err)
		}
	}
	return nil
}

// GetLogs streams entries for a job or step. A cache miss fetches the
// job's archive from the backing store first, under a per-job lock so
// concurrent readers fetch once.
func (a *Archive) GetLogs(ctx context.Context, job, step string) (*Iterator, error) {
	path := a.logPath(job, step)
	if _, err := os.Stat(path); err == nil {
		return newIterator(path)
	}

	lock := flock.New(filepath.Join(a.cacheDir, job+".fetch.lock"))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock fetch for job %s: %w", job, err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another reader may have rehydrated the cache while we waited.
	if _, err := os.Stat(path); err == nil {
		return newIterator(path)
	}

	tgz := filepath.Join(a.cacheDir, job+".tgz")
	if err := a.backing.Download(ctx, job+".tgz", tgz); err != nil {
		if errors.Is(err, ErrArchiveNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrLogsNotFound, job)
		}
		return nil, fmt.Errorf("fetch log archive for job %s: %w", job, err)
	}
	defer func() { _ = os.Remove(tgz) }()

	in, err := os.Open(tgz)
	if err != nil {
		return nil, fmt.Errorf("open log archive: %w", err)
	}
	defer func() { _ = in.Close() }()
	if err := tarball.Extract(ctx, in, a.cacheDir); err != nil {
		return nil, fmt.Errorf("unpack log archive for job %s: %w", job, err)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: job %s step %q", ErrLogsNotFound, job, step)
	}
	return newIterator(path)
}

// JobDone packs every cache file of the job into <job>.tgz, uploads it,
// and prunes the cache.
func (a *Archive) JobDone(ctx context.Context, job string) error {
	matches, err := filepath.Glob(filepath.Join(a.cacheDir, job+"*.jsonl"))
	if err != nil {
		return fmt.Errorf("glob log cache: %w", err)
	}
	if len(matches) > 0 {
		tgz := filepath.Join(a.cacheDir, job+".tgz")
		if err := a.packAndUpload(ctx, job, matches, tgz); err != nil {
			return err
		}
	}
	return a.CleanCache(ctx)
}

func (a *Archive) packAndUpload(ctx context.Context, job string, matches []string, tgz string) error {
	files := make(map[string]string, len(matches))
	for _, match := range matches {
		files[match] = filepath.Base(match)
	}

	out, err := os.Create(tgz)
	if err != nil {
		return fmt.Errorf("create log archive: %w", err)
	}
	defer func() { _ = os.Remove(tgz) }()

	if err := tarball.Pack(ctx, out, files); err != nil {
		_ = out.Close()
		return fmt.Errorf("pack logs for job %s: %w", job, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close log archive: %w", err)
	}

	if err := a.backing.Upload(ctx, job+".tgz", tgz); err != nil {
		return fmt.Errorf("upload log archive for job %s: %w", job, err)
	}
	return nil
}

// CleanCache removes cache files whose modification time is older than
// the retention window. Individual failures are logged, not fatal.
func (a *Archive) CleanCache(ctx context.Context) error {
	cutoff := time.Now().Add(-a.retention)
	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		return fmt.Errorf("read log cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(a.cacheDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn(ctx, "Failed to prune log cache file", tag.File(path), tag.Error(err))
		}
	}
	return nil
}
