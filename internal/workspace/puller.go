package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/tarball"
)

const (
	// revisionFile remembers which revision the local copy was unpacked
	// from.
	revisionFile = ".weft-revision"
	// lockFile serialises unpacks between worker processes on one machine.
	lockFile = ".weft.lock"

	lockRetryDelay = 100 * time.Millisecond
)

// Puller keeps a worker's local workspace copy in step with the server.
// Multiple workers may share one directory; an advisory file lock makes
// sure only one of them unpacks at a time.
type Puller struct {
	client *client.Client
	dir    string
}

// NewPuller creates a puller that maintains dir from cli's server.
func NewPuller(cli *client.Client, dir string) *Puller {
	return &Puller{client: cli, dir: dir}
}

// Pull brings the local copy up to date and returns the revision it holds
// afterwards. When the server's revision matches the sidecar the download
// is skipped entirely.
func (p *Puller) Pull(ctx context.Context) (string, error) {
	remote, err := p.client.WorkspaceRevision(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get workspace revision: %w", err)
	}
	if remote != "" && remote == p.localRevision() {
		return remote, nil
	}

	if err := os.MkdirAll(p.dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, ".weft-download-*.tgz")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	revision, err := p.client.DownloadWorkspace(ctx, tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to download workspace: %w", err)
	}

	lock := flock.New(filepath.Join(p.dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("failed to lock workspace %s", p.dir)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// Another process may have unpacked this revision while we were
	// downloading.
	if revision != "" && revision == p.localRevision() {
		return revision, nil
	}

	archive, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to open downloaded archive: %w", err)
	}
	defer func() {
		_ = archive.Close()
	}()

	if err := tarball.Extract(ctx, archive, p.dir); err != nil {
		return "", fmt.Errorf("failed to unpack workspace: %w", err)
	}
	if err := p.writeRevision(revision); err != nil {
		return "", err
	}

	logger.Info(ctx, "Workspace pulled", tag.Revision(revision), tag.Dir(p.dir))
	return revision, nil
}

// Dir returns the local workspace directory.
func (p *Puller) Dir() string {
	return p.dir
}

func (p *Puller) localRevision() string {
	return LocalRevision(p.dir)
}

// LocalRevision reads the revision sidecar of a pulled workspace copy,
// or returns the empty string when the directory has never been
// populated. The runner uses it to stamp job results.
func LocalRevision(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, revisionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (p *Puller) writeRevision(revision string) error {
	path := filepath.Join(p.dir, revisionFile)
	if err := os.WriteFile(path, []byte(revision+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write revision file: %w", err)
	}
	return nil
}
