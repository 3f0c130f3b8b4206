package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/worker"
)

func CmdWorker() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "worker [flags]",
			Short: "Start a worker that polls the server for jobs",
			Long: `Launch a worker process that polls the weft server and executes claimed jobs.

The worker keeps a local copy of the declaration workspace current,
claims queued jobs up to its concurrency limit and spawns one runner
child process per job. On shutdown the worker stops claiming and drains
in-flight jobs instead of cancelling them.

By default the worker ID is hostname@PID.

Flags:
  --server string      Base URL of the weft server (default: http://127.0.0.1:8080)
  --worker-id string   Worker identity reported to the server (default: hostname@PID)
  --token string       Bearer token for the server

Example:
  weft worker --server=http://weft.internal:8080
  weft worker --worker-id=worker-1

This process runs continuously in the foreground until terminated.
`,
		}, workerFlags, runWorker,
	)
}

var workerFlags = []commandLineFlag{serverFlag, workerIDFlag, tokenFlag}

func runWorker(ctx *Context, _ []string) error {
	cfg := ctx.Config
	flags := ctx.Command.Flags()
	if flags.Changed("server") {
		cfg.Worker.ServerURL, _ = flags.GetString("server")
	}
	if flags.Changed("worker-id") {
		cfg.Worker.ID, _ = flags.GetString("worker-id")
	}
	if flags.Changed("token") {
		cfg.Worker.Token, _ = flags.GetString("token")
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.New(cfg.Worker).Start(signalCtx); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return nil
}
