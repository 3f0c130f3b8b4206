package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the fully resolved application configuration.
type Config struct {
	// Debug enables debug-level logging with source locations.
	Debug bool
	// LogFormat selects the log encoding: "text" or "json".
	LogFormat string
	// LogFile is an optional file that receives a copy of every log record.
	LogFile string

	Server    Server
	Workspace Workspace
	Queue     Queue
	LogStore  LogStore
	Worker    Worker
	Paths     Paths

	// Warnings collects non-fatal issues found while loading.
	Warnings []string
}

// Server configures the HTTP control and read planes.
type Server struct {
	Host string
	Port int
	// APIToken guards the read plane when non-empty. Worker endpoints are
	// trusted-network and share the same token when set.
	APIToken string
}

// Addr returns the listen address in host:port form.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WorkspaceType selects the workspace source variant.
type WorkspaceType string

const (
	WorkspaceFolder WorkspaceType = "folder"
	WorkspaceGit    WorkspaceType = "git"
)

// Workspace configures the declaration workspace source.
type Workspace struct {
	Type WorkspaceType
	// Path is the workspace root directory (checkout target for git).
	Path string
	// Repo is the git remote URL (git type only).
	Repo string
	// Branch is the tracked branch, default "main" (git type only).
	Branch string
	// PollInterval is the git remote poll cadence, default 60s.
	PollInterval time.Duration
}

// QueueDriver selects the relational store driver.
type QueueDriver string

const (
	DriverSQLite   QueueDriver = "sqlite"
	DriverPostgres QueueDriver = "postgres"
)

// Queue configures the durable job queue.
type Queue struct {
	Driver QueueDriver
	// DSN is the database file path (sqlite) or connection string (postgres).
	DSN string
}

// BackingType selects the log archive backing store variant.
type BackingType string

const (
	BackingFolder BackingType = "folder"
	BackingS3     BackingType = "s3"
)

// LogStore configures the server-side log archive.
type LogStore struct {
	// CacheDir holds the hot per-(job, step) NDJSON files.
	CacheDir string
	Backend  BackingType
	// Dir is the archive directory for the folder backend.
	Dir string
	S3  S3
}

// S3 configures an S3 or S3-compatible backing store.
type S3 struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Worker configures the job-polling worker process.
type Worker struct {
	// ServerURL is the base URL of the weft server.
	ServerURL string
	// ID identifies this worker; defaults to hostname@pid.
	ID string
	// MaxJobs bounds concurrently running jobs, default 5.
	MaxJobs int
	// PollInterval is the base delay between empty polls, default 2s.
	PollInterval time.Duration
	// Token authenticates against the server when set.
	Token string
	// WorkspaceDir is where the downloaded workspace is unpacked.
	WorkspaceDir string
}

// Paths are the resolved application directories.
type Paths struct {
	ConfigDir      string
	DataDir        string
	ConfigFileUsed string
}

// Validate checks the sections required by the loading service.
func (c *Config) Validate(service Service) error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q: must be \"text\" or \"json\"", c.LogFormat)
	}

	if requires(service, SectionServer) {
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Server.Port)
		}
		switch c.Workspace.Type {
		case WorkspaceFolder:
			if c.Workspace.Path == "" {
				return errors.New("workspace.path is required")
			}
		case WorkspaceGit:
			if c.Workspace.Repo == "" {
				return errors.New("workspace.repo is required for the git workspace")
			}
		default:
			return fmt.Errorf("invalid workspace.type %q: must be \"folder\" or \"git\"", c.Workspace.Type)
		}
		switch c.Queue.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			return fmt.Errorf("invalid queue.driver %q: must be \"sqlite\" or \"postgres\"", c.Queue.Driver)
		}
		switch c.LogStore.Backend {
		case BackingFolder:
		case BackingS3:
			if c.LogStore.S3.Bucket == "" {
				return errors.New("log_store.s3.bucket is required for the s3 backend")
			}
		default:
			return fmt.Errorf("invalid log_store.backend %q: must be \"folder\" or \"s3\"", c.LogStore.Backend)
		}
	}

	if requires(service, SectionWorker) {
		if c.Worker.ServerURL == "" {
			return errors.New("worker.server_url is required")
		}
		if c.Worker.MaxJobs < 1 {
			return fmt.Errorf("worker.max_jobs must be positive, got %d", c.Worker.MaxJobs)
		}
	}

	return nil
}
