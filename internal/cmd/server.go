package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/build"
	"github.com/weft-run/weft/internal/config"
	"github.com/weft-run/weft/internal/events"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/logstore"
	"github.com/weft-run/weft/internal/persistence/jobdb"
	"github.com/weft-run/weft/internal/scheduler"
	"github.com/weft-run/weft/internal/server"
	"github.com/weft-run/weft/internal/telemetry"
	"github.com/weft-run/weft/internal/workflow"
	"github.com/weft-run/weft/internal/workspace"
)

func CmdServer() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "server [flags]",
			Short: "Start the weft server",
			Long: `Launch the weft server: the job queue, the workspace source of truth and the read API.

The server loads the workflow declarations from the configured workspace,
owns the durable job queue, fires cron triggers, hands queued jobs to
polling workers, archives their logs and streams job events to clients.

Flags:
  --host string    Host address to bind to (default: 127.0.0.1)
  --port int       Port number to listen on (default: 8080)

Example:
  weft server --host=0.0.0.0 --port=8080

This process runs continuously in the foreground until terminated.
`,
		}, serverFlags, runServer,
	)
}

var serverFlags = []commandLineFlag{hostFlag, portFlag}

func runServer(ctx *Context, _ []string) error {
	cfg := ctx.Config
	if err := applyServerFlags(ctx.Command, cfg); err != nil {
		return err
	}

	store, err := jobdb.Open(ctx, jobdb.Config{
		Driver: string(cfg.Queue.Driver),
		DSN:    cfg.Queue.DSN,
	})
	if err != nil {
		return fmt.Errorf("failed to open the job queue: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(ctx, "Queue close failed", tag.Error(err))
		}
	}()

	if cfg.Workspace.Type == config.WorkspaceFolder {
		if err := os.MkdirAll(cfg.Workspace.Path, 0o750); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}
	source, err := workspace.NewSource(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("failed to initialize workspace source: %w", err)
	}
	holder := workflow.NewHolder()
	manager := workspace.NewManager(source, cfg.Workspace.Path, holder)
	if err := manager.Reload(ctx); err != nil {
		// The server starts with an empty configuration; the watcher
		// reloads once valid declarations appear in the workspace.
		logger.Warn(ctx, "Workspace load failed", tag.Error(err))
	}

	backing, err := newLogBacking(cfg.LogStore)
	if err != nil {
		return fmt.Errorf("failed to initialize log archive backing: %w", err)
	}
	archive, err := logstore.New(cfg.LogStore.CacheDir, backing)
	if err != nil {
		return fmt.Errorf("failed to initialize log archive: %w", err)
	}

	registry := telemetry.NewRegistry(telemetry.NewCollector(build.Version, store, holder))
	hub := events.NewHub(events.NewMetrics(registry))

	sched := scheduler.New(store)
	sched.Load(ctx, holder.Config())
	sched.Start(ctx)
	defer sched.Stop(ctx)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		if err := manager.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(watchCtx, "Workspace watch stopped", tag.Error(err))
		}
	}()
	go func() {
		updates := holder.Watch()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-updates:
				sched.Load(watchCtx, holder.Config())
			}
		}
	}()

	srv := server.New(server.Params{
		Config:    cfg.Server,
		LogFormat: cfg.LogFormat,
		Store:     store,
		Holder:    holder,
		Manager:   manager,
		Hub:       hub,
		Archive:   archive,
		Registry:  registry,
	})

	logger.Info(ctx, "Server initialization",
		tag.String("host", cfg.Server.Host), tag.Port(cfg.Server.Port))
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		raw, _ := cmd.Flags().GetString("port")
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid port %q", raw)
		}
		cfg.Server.Port = port
	}
	return nil
}

func newLogBacking(cfg config.LogStore) (logstore.Backing, error) {
	if cfg.Backend == config.BackingS3 {
		return logstore.NewS3Backing(logstore.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
	}
	return logstore.NewFolderBacking(cfg.Dir)
}
