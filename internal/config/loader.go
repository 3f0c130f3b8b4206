package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/weft-run/weft/internal/build"
)

// Service represents the process role that is loading configuration, so
// the loader validates only the sections that role needs.
type Service int

const (
	// ServiceNone loads and validates everything (CLI commands).
	ServiceNone Service = iota
	// ServiceServer runs the control/read planes, scheduler and archive.
	ServiceServer
	// ServiceWorker polls the server and spawns runners.
	ServiceWorker
	// ServiceRunner executes a single job; config comes from flags, so
	// only core settings apply.
	ServiceRunner
)

// ConfigSection represents a group of related settings using bit flags.
type ConfigSection uint8

const (
	SectionNone   ConfigSection = 0
	SectionServer ConfigSection = 1 << iota
	SectionWorker

	SectionAll = SectionServer | SectionWorker
)

var serviceRequirements = map[Service]ConfigSection{
	ServiceNone:   SectionAll,
	ServiceServer: SectionServer,
	ServiceWorker: SectionWorker,
	ServiceRunner: SectionNone,
}

func requires(service Service, section ConfigSection) bool {
	req, ok := serviceRequirements[service]
	if !ok {
		req = SectionAll
	}
	return req&section != 0
}

// Definition mirrors the YAML layout of the configuration file.
type Definition struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	APIToken  string `mapstructure:"api_token"`

	Workspace struct {
		Type         string `mapstructure:"type"`
		Path         string `mapstructure:"path"`
		Repo         string `mapstructure:"repo"`
		Branch       string `mapstructure:"branch"`
		PollInterval string `mapstructure:"poll_interval"`
	} `mapstructure:"workspace"`

	Queue struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"queue"`

	LogStore struct {
		CacheDir string `mapstructure:"cache_dir"`
		Backend  string `mapstructure:"backend"`
		Dir      string `mapstructure:"dir"`
		S3       struct {
			Endpoint  string `mapstructure:"endpoint"`
			Region    string `mapstructure:"region"`
			Bucket    string `mapstructure:"bucket"`
			Prefix    string `mapstructure:"prefix"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			UseSSL    bool   `mapstructure:"use_ssl"`
		} `mapstructure:"s3"`
	} `mapstructure:"log_store"`

	Worker struct {
		ServerURL    string `mapstructure:"server_url"`
		ID           string `mapstructure:"id"`
		MaxJobs      int    `mapstructure:"max_jobs"`
		PollInterval string `mapstructure:"poll_interval"`
		Token        string `mapstructure:"token"`
		WorkspaceDir string `mapstructure:"workspace_dir"`
	} `mapstructure:"worker"`
}

// Loader reads and merges configuration from file, environment and defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	homeDir    string
	service    Service
	warnings   []string
}

// LoaderOption defines a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

// WithHomeDir overrides the application home directory (WEFT_HOME).
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.homeDir = dir
	}
}

// WithService sets the service role, limiting which sections are validated.
func WithService(service Service) LoaderOption {
	return func(l *Loader) {
		l.service = service
	}
}

// NewLoader creates a Loader with the given options.
func NewLoader(options ...LoaderOption) *Loader {
	loader := &Loader{v: viper.New()}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration file (if any), applies defaults and
// environment overrides, and returns a validated Config.
func (l *Loader) Load() (*Config, error) {
	// A .env next to the process is a convenience for local setups.
	_ = godotenv.Load()

	paths := l.resolveAppPaths()
	l.configureViper(paths)
	l.bindEnvironmentVariables()
	l.setDefaultValues(paths)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := l.buildConfig(def, paths)
	cfg.Paths.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Warnings = l.warnings

	if err := cfg.Validate(l.service); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) resolveAppPaths() Paths {
	home := l.homeDir
	if home == "" {
		home = os.Getenv(strings.ToUpper(build.Slug) + "_HOME")
	}
	if home != "" {
		return Paths{
			ConfigDir: home,
			DataDir:   filepath.Join(home, "data"),
		}
	}
	return Paths{
		ConfigDir: filepath.Join(xdg.ConfigHome, build.Slug),
		DataDir:   filepath.Join(xdg.DataHome, build.Slug),
	}
}

func (l *Loader) configureViper(paths Paths) {
	if l.configFile == "" {
		l.v.AddConfigPath(paths.ConfigDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()
}

type envBinding struct {
	key string
	env string
}

var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "log_file", env: "LOG_FILE"},
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "api_token", env: "API_TOKEN"},

	{key: "workspace.type", env: "WORKSPACE_TYPE"},
	{key: "workspace.path", env: "WORKSPACE_PATH"},
	{key: "workspace.repo", env: "WORKSPACE_REPO"},
	{key: "workspace.branch", env: "WORKSPACE_BRANCH"},
	{key: "workspace.poll_interval", env: "WORKSPACE_POLL_INTERVAL"},

	{key: "queue.driver", env: "QUEUE_DRIVER"},
	{key: "queue.dsn", env: "QUEUE_DSN"},

	{key: "log_store.cache_dir", env: "LOG_STORE_CACHE_DIR"},
	{key: "log_store.backend", env: "LOG_STORE_BACKEND"},
	{key: "log_store.dir", env: "LOG_STORE_DIR"},
	{key: "log_store.s3.endpoint", env: "S3_ENDPOINT"},
	{key: "log_store.s3.region", env: "S3_REGION"},
	{key: "log_store.s3.bucket", env: "S3_BUCKET"},
	{key: "log_store.s3.prefix", env: "S3_PREFIX"},
	{key: "log_store.s3.access_key", env: "S3_ACCESS_KEY"},
	{key: "log_store.s3.secret_key", env: "S3_SECRET_KEY"},
	{key: "log_store.s3.use_ssl", env: "S3_USE_SSL"},

	{key: "worker.server_url", env: "WORKER_SERVER_URL"},
	{key: "worker.id", env: "WORKER_ID"},
	{key: "worker.max_jobs", env: "WORKER_MAX_JOBS"},
	{key: "worker.poll_interval", env: "WORKER_POLL_INTERVAL"},
	{key: "worker.token", env: "WORKER_TOKEN"},
	{key: "worker.workspace_dir", env: "WORKER_WORKSPACE_DIR"},
}

func (l *Loader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(build.Slug) + "_"
	for _, b := range envBindings {
		_ = l.v.BindEnv(b.key, prefix+b.env)
	}
}

func (l *Loader) setDefaultValues(paths Paths) {
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("host", "127.0.0.1")
	l.v.SetDefault("port", 8080)

	l.v.SetDefault("workspace.type", string(WorkspaceFolder))
	l.v.SetDefault("workspace.path", filepath.Join(paths.DataDir, "workspace"))
	l.v.SetDefault("workspace.branch", "main")
	l.v.SetDefault("workspace.poll_interval", "60s")

	l.v.SetDefault("queue.driver", string(DriverSQLite))
	l.v.SetDefault("queue.dsn", filepath.Join(paths.DataDir, "weft.db"))

	l.v.SetDefault("log_store.cache_dir", filepath.Join(paths.DataDir, "logcache"))
	l.v.SetDefault("log_store.backend", string(BackingFolder))
	l.v.SetDefault("log_store.dir", filepath.Join(paths.DataDir, "logs"))

	l.v.SetDefault("worker.server_url", "http://127.0.0.1:8080")
	l.v.SetDefault("worker.max_jobs", 5)
	l.v.SetDefault("worker.poll_interval", "2s")
	l.v.SetDefault("worker.workspace_dir", filepath.Join(paths.DataDir, "worker-workspace"))
}

func (l *Loader) buildConfig(def Definition, paths Paths) *Config {
	return &Config{
		Debug:     def.Debug,
		LogFormat: def.LogFormat,
		LogFile:   def.LogFile,
		Server: Server{
			Host:     def.Host,
			Port:     def.Port,
			APIToken: def.APIToken,
		},
		Workspace: Workspace{
			Type:         WorkspaceType(def.Workspace.Type),
			Path:         def.Workspace.Path,
			Repo:         def.Workspace.Repo,
			Branch:       def.Workspace.Branch,
			PollInterval: l.parseDuration("workspace.poll_interval", def.Workspace.PollInterval, 60*time.Second),
		},
		Queue: Queue{
			Driver: QueueDriver(def.Queue.Driver),
			DSN:    def.Queue.DSN,
		},
		LogStore: LogStore{
			CacheDir: def.LogStore.CacheDir,
			Backend:  BackingType(def.LogStore.Backend),
			Dir:      def.LogStore.Dir,
			S3: S3{
				Endpoint:  def.LogStore.S3.Endpoint,
				Region:    def.LogStore.S3.Region,
				Bucket:    def.LogStore.S3.Bucket,
				Prefix:    def.LogStore.S3.Prefix,
				AccessKey: def.LogStore.S3.AccessKey,
				SecretKey: def.LogStore.S3.SecretKey,
				UseSSL:    def.LogStore.S3.UseSSL,
			},
		},
		Worker: Worker{
			ServerURL:    def.Worker.ServerURL,
			ID:           def.Worker.ID,
			MaxJobs:      def.Worker.MaxJobs,
			PollInterval: l.parseDuration("worker.poll_interval", def.Worker.PollInterval, 2*time.Second),
			Token:        def.Worker.Token,
			WorkspaceDir: def.Worker.WorkspaceDir,
		},
		Paths: paths,
	}
}

// parseDuration parses a duration string, adding a warning and falling
// back to the default when invalid.
func (l *Loader) parseDuration(fieldName, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s value: %s", fieldName, value))
		return fallback
	}
	return duration
}
