package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/logsink"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/runner"
	"github.com/weft-run/weft/internal/workflow"
	"github.com/weft-run/weft/internal/workspace"
)

func CmdRun() *cobra.Command {
	cmd := NewCommand(
		&cobra.Command{
			Use:   "run [flags]",
			Short: "Execute a task or an action against a local workspace",
			Long: `Execute one job: a task's flow of steps or a single ad-hoc action.

Without --server this is a standalone run: declarations are loaded from
the workspace directory and output goes to the terminal. With --server
the command acts as the runner a worker spawns for a claimed job, and
reports starts, results and logs back to the server.

Flags:
  --task string        Task to execute (mutually exclusive with --action)
  --action string      Action to execute (mutually exclusive with --task)
  --input string       Input values as a JSON object
  --workspace string   Workspace directory holding the declarations (default: .)
  --server string      Base URL of the weft server; enables remote reporting
  --job-id string      Server-assigned job ID (required with --server)
  --worker-id string   Identity of the worker that claimed the job
  --token string       Bearer token for the server

Example:
  weft run --task deploy --input '{"env": "staging"}'
  weft run --action lint --workspace /srv/checkout

The command exits non-zero when the task or action fails.
`,
		}, runFlags, runRun,
	)
	cmd.MarkFlagsMutuallyExclusive("task", "action")
	return cmd
}

var runFlags = []commandLineFlag{
	taskFlag, actionFlag, inputFlag, workspaceFlag,
	serverFlag, jobIDFlag, workerIDFlag, tokenFlag,
}

func runRun(ctx *Context, _ []string) error {
	flags := ctx.Command.Flags()
	taskName, _ := flags.GetString("task")
	actionName, _ := flags.GetString("action")
	rawInput, _ := flags.GetString("input")
	workspaceDir, _ := flags.GetString("workspace")
	serverURL, _ := flags.GetString("server")
	jobID, _ := flags.GetString("job-id")
	workerID, _ := flags.GetString("worker-id")
	token, _ := flags.GetString("token")

	req := models.JobRequest{Task: taskName, Action: actionName}
	if err := req.Validate(); err != nil {
		return err
	}
	if serverURL != "" && jobID == "" {
		return errors.New("--job-id is required when --server is set")
	}

	var input any
	if rawInput != "" {
		if err := json.Unmarshal([]byte(rawInput), &input); err != nil {
			return fmt.Errorf("invalid --input: %w", err)
		}
	}

	cfg, err := workflow.Load(workspaceDir)
	if err != nil {
		return fmt.Errorf("failed to load declarations: %w", err)
	}

	var sink logsink.Sink
	if serverURL != "" {
		remote := logsink.NewRemote(ctx, client.New(serverURL, client.WithToken(token)), jobID, workerID)
		defer func() {
			if err := remote.Close(); err != nil {
				logger.Warn(ctx, "Log sink close failed", tag.Job(jobID), tag.Error(err))
			}
		}()
		sink = remote
	} else {
		sink = logsink.NewConsole()
	}

	r := runner.New(runner.Params{
		Config:    cfg,
		Sink:      sink,
		JobID:     jobID,
		Workspace: workspaceDir,
		Revision:  workspace.LocalRevision(workspaceDir),
	})

	if taskName != "" {
		return r.RunTask(ctx, taskName, input)
	}
	return r.RunAction(ctx, actionName, input)
}
