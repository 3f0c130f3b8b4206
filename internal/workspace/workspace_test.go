package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/config"
)

func TestNewSource(t *testing.T) {
	t.Parallel()

	src, err := NewSource(config.Workspace{Type: config.WorkspaceFolder, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FolderSource{}, src)

	src, err = NewSource(config.Workspace{
		Type: config.WorkspaceGit,
		Path: t.TempDir(),
		Repo: "https://example.com/repo.git",
	})
	require.NoError(t, err)
	assert.IsType(t, &GitSource{}, src)

	_, err = NewSource(config.Workspace{Type: "svn"})
	require.Error(t, err)
}
