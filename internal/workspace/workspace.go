// Package workspace manages the declaration workspace: syncing it from its
// source, computing its revision, and watching it for changes.
package workspace

import (
	"context"
	"fmt"

	"github.com/weft-run/weft/internal/config"
)

// Source is a workspace backing store. Sync brings the local directory up to
// date and returns its revision. Revision reports the current revision
// without syncing. Watch blocks until ctx is cancelled, invoking onChange
// whenever the source content changes.
type Source interface {
	Sync(ctx context.Context) (string, error)
	Revision(ctx context.Context) (string, error)
	Watch(ctx context.Context, onChange func()) error
}

// NewSource builds the Source for the configured workspace variant.
func NewSource(cfg config.Workspace) (Source, error) {
	switch cfg.Type {
	case config.WorkspaceFolder:
		return NewFolderSource(cfg.Path), nil
	case config.WorkspaceGit:
		return NewGitSource(cfg)
	default:
		return nil, fmt.Errorf("unknown workspace type: %q", cfg.Type)
	}
}
