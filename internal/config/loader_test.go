package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := NewLoader(
		WithHomeDir(home),
		WithService(ServiceNone),
	).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, WorkspaceFolder, cfg.Workspace.Type)
	assert.Equal(t, "main", cfg.Workspace.Branch)
	assert.Equal(t, 60*time.Second, cfg.Workspace.PollInterval)
	assert.Equal(t, DriverSQLite, cfg.Queue.Driver)
	assert.Equal(t, BackingFolder, cfg.LogStore.Backend)
	assert.Equal(t, 5, cfg.Worker.MaxJobs)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	configFile := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
port: 9100
api_token: sekrit
workspace:
  type: git
  repo: https://example.com/flows.git
  branch: release
  poll_interval: 30s
queue:
  driver: postgres
  dsn: postgres://weft@localhost/weft
log_store:
  backend: s3
  s3:
    endpoint: minio.local:9000
    bucket: weft-logs
    prefix: prod
`), 0o600))

	cfg, err := NewLoader(
		WithHomeDir(home),
		WithConfigFile(configFile),
		WithService(ServiceServer),
	).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Server.APIToken)
	assert.Equal(t, WorkspaceGit, cfg.Workspace.Type)
	assert.Equal(t, "https://example.com/flows.git", cfg.Workspace.Repo)
	assert.Equal(t, "release", cfg.Workspace.Branch)
	assert.Equal(t, 30*time.Second, cfg.Workspace.PollInterval)
	assert.Equal(t, DriverPostgres, cfg.Queue.Driver)
	assert.Equal(t, BackingS3, cfg.LogStore.Backend)
	assert.Equal(t, "weft-logs", cfg.LogStore.S3.Bucket)
}

func TestLoadEnvOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WEFT_PORT", "9200")
	t.Setenv("WEFT_WORKER_MAX_JOBS", "9")

	cfg, err := NewLoader(
		WithHomeDir(home),
		WithService(ServiceNone),
	).Load()
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Worker.MaxJobs)
}

func TestLoadInvalidDurationWarns(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WEFT_WORKER_POLL_INTERVAL", "often")

	cfg, err := NewLoader(
		WithHomeDir(home),
		WithService(ServiceWorker),
	).Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "worker.poll_interval")
}

func TestValidateRejectsBadWorkspaceType(t *testing.T) {
	home := t.TempDir()
	t.Setenv("WEFT_WORKSPACE_TYPE", "ftp")

	_, err := NewLoader(
		WithHomeDir(home),
		WithService(ServiceServer),
	).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace.type")
}

func TestValidateSkipsSectionsForRunner(t *testing.T) {
	home := t.TempDir()
	// Invalid for the server role, but the runner does not validate it.
	t.Setenv("WEFT_WORKSPACE_TYPE", "ftp")

	_, err := NewLoader(
		WithHomeDir(home),
		WithService(ServiceRunner),
	).Load()
	require.NoError(t, err)
}
