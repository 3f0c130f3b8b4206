package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
)

// defaultIdleWindow is how long the folder watcher waits after the last
// filesystem event before reporting a change.
const defaultIdleWindow = 5 * time.Second

// FolderSource serves declarations straight from a local directory. The
// revision is a content hash of the tree, so two identical trees always
// report the same revision.
type FolderSource struct {
	root string
	idle time.Duration
}

// FolderOption configures a FolderSource.
type FolderOption func(*FolderSource)

// WithIdleWindow overrides the watch coalescing window.
func WithIdleWindow(d time.Duration) FolderOption {
	return func(f *FolderSource) { f.idle = d }
}

// NewFolderSource creates a source rooted at dir.
func NewFolderSource(dir string, opts ...FolderOption) *FolderSource {
	f := &FolderSource{root: dir, idle: defaultIdleWindow}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Sync recomputes the tree hash. A folder source has no upstream to pull
// from, so syncing and reading the revision are the same operation.
func (f *FolderSource) Sync(ctx context.Context) (string, error) {
	return f.Revision(ctx)
}

// Revision hashes the tree: every regular file in sorted relative-path
// order, each contributing its path bytes followed by its content bytes.
// Directories named .git are left out.
func (f *FolderSource) Revision(ctx context.Context) (string, error) {
	var paths []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		typ := d.Type()
		if typ&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !typ.IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk workspace: %w", err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h.Write([]byte(rel))
		file, err := os.Open(filepath.Join(f.root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", rel, err)
		}
		_, err = io.Copy(h, file)
		_ = file.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Watch reports tree changes until ctx is cancelled. Events are coalesced:
// each event resets an idle timer and onChange runs once per quiet period.
// Chmod-only events are ignored. New directories are added to the watch as
// they appear.
func (f *FolderSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := addRecursive(watcher, f.root); err != nil {
		return err
	}

	idle := time.NewTimer(f.idle)
	if !idle.Stop() {
		<-idle.C
	}
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(watcher, event.Name); err != nil {
						logger.Warn(ctx, "Workspace watch add failed", tag.Dir(event.Name), tag.Error(err))
					}
				}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(f.idle)

		case <-idle.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "Workspace watch error", tag.Error(err))
		}
	}
}

// addRecursive watches dir and every directory below it, skipping .git.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
