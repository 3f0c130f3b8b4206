package workspace

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/tarball"
	"github.com/weft-run/weft/internal/workflow"
)

// Manager is the server's view of the workspace: it syncs the source, loads
// the declarations into the holder and serves the revision and tarball to
// workers. The revision is cached until the next sync.
type Manager struct {
	source Source
	root   string
	holder *workflow.Holder

	mu  sync.Mutex
	rev string
}

// NewManager creates a manager over src, whose files live under root.
func NewManager(src Source, root string, holder *workflow.Holder) *Manager {
	return &Manager{source: src, root: root, holder: holder}
}

// Reload syncs the source and replaces the active configuration. When the
// declarations fail to load the previous configuration stays in effect and
// the error is returned; the synced tree is still what workers download.
func (m *Manager) Reload(ctx context.Context) error {
	rev, err := m.source.Sync(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync workspace: %w", err)
	}
	m.setRevision(rev)

	cfg, err := workflow.Load(m.root)
	if err != nil {
		return fmt.Errorf("failed to load declarations: %w", err)
	}
	m.holder.Set(cfg, rev)

	logger.Info(ctx, "Workspace loaded",
		tag.Revision(rev),
		tag.Count(len(cfg.Tasks)),
	)
	return nil
}

// Revision returns the workspace revision, computing it from the source
// when the cache is empty.
func (m *Manager) Revision(ctx context.Context) (string, error) {
	m.mu.Lock()
	rev := m.rev
	m.mu.Unlock()
	if rev != "" {
		return rev, nil
	}

	rev, err := m.source.Revision(ctx)
	if err != nil {
		return "", err
	}
	m.setRevision(rev)
	return rev, nil
}

// Invalidate clears the cached revision so the next Revision call asks the
// source again.
func (m *Manager) Invalidate() {
	m.setRevision("")
}

// Watch reloads the workspace whenever the source reports a change, until
// ctx is cancelled. Reload failures are logged and watching continues.
func (m *Manager) Watch(ctx context.Context) error {
	return m.source.Watch(ctx, func() {
		m.Invalidate()
		if err := m.Reload(ctx); err != nil {
			logger.Error(ctx, "Workspace reload failed", tag.Error(err))
		}
	})
}

// WriteTarball streams the workspace tree as a gzipped tar to w.
func (m *Manager) WriteTarball(ctx context.Context, w io.Writer) error {
	return tarball.PackDir(ctx, w, m.root)
}

func (m *Manager) setRevision(rev string) {
	m.mu.Lock()
	m.rev = rev
	m.mu.Unlock()
}
