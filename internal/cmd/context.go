// Package cmd wires the weft subcommands: loading configuration,
// attaching the logger to the command context and assembling the
// services each command runs.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weft-run/weft/internal/config"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
)

// Context carries what a command run function needs: the loaded
// configuration and a context.Context with the logger attached.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
	Quiet   bool
}

// NewContext loads the configuration for the command, builds the logger
// from it and surfaces any warnings collected while loading.
func NewContext(cmd *cobra.Command) (*Context, error) {
	ctx := cmd.Context()

	bindFlags(cmd)

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	loaderOpts := []config.LoaderOption{config.WithService(serviceFor(cmd.Name()))}
	if cfgPath := viper.GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}

	cfg, err := config.NewLoader(loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []logger.Option
	if cfg.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.LogFormat))
	}

	// The log file stays open for the life of the process.
	var openErr error
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
		} else {
			opts = append(opts, logger.WithWriter(f))
		}
	}

	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	if openErr != nil {
		logger.Warn(ctx, "Log file unavailable", tag.File(cfg.LogFile), tag.Error(openErr))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}

	return &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
		Quiet:   quiet,
	}, nil
}

// serviceFor maps a command name to the config sections it must have.
func serviceFor(name string) config.Service {
	switch name {
	case "server":
		return config.ServiceServer
	case "worker":
		return config.ServiceWorker
	default:
		return config.ServiceRunner
	}
}

// NewCommand wires a cobra command to its run function: flags are
// registered up front and the Context is built when the command runs.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(ctx *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd)
		if err != nil {
			fmt.Printf("Initialization error: %v\n", err)
			os.Exit(1)
		}
		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx.Context, "Command failed", tag.Error(err))
			os.Exit(1)
		}
		return nil
	}

	return cmd
}
