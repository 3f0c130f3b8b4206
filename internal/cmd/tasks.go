package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/client"
)

func CmdTasks() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "tasks [flags]",
			Short: "List the tasks declared on the server",
			Long: `Fetch the task list from the weft server and print it as a table.

The server address and token default to the worker section of the
configuration, so a configured worker host can list tasks without flags.

Flags:
  --server string   Base URL of the weft server (default: worker.server_url)
  --token string    Bearer token for the server (default: worker.token)

Example:
  weft tasks
  weft tasks --server=http://weft.internal:8080
`,
		}, tasksFlags, runTasks,
	)
}

var tasksFlags = []commandLineFlag{serverFlag, tokenFlag}

func runTasks(ctx *Context, _ []string) error {
	flags := ctx.Command.Flags()
	serverURL, _ := flags.GetString("server")
	if serverURL == "" {
		serverURL = ctx.Config.Worker.ServerURL
	}
	token, _ := flags.GetString("token")
	if token == "" {
		token = ctx.Config.Worker.Token
	}

	tasks, err := client.New(serverURL, client.WithToken(token)).ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	fmt.Println(renderTaskTable(tasks))
	return nil
}

var taskHeader = table.Row{"Name", "Steps", "Inputs", "Triggers"}

func renderTaskTable(tasks []client.TaskSummary) string {
	taskTable := table.NewWriter()
	taskTable.AppendHeader(taskHeader)
	for _, task := range tasks {
		taskTable.AppendRow(table.Row{
			task.Name,
			task.Steps,
			strings.Join(task.Inputs, ", "),
			strings.Join(task.Triggers, ", "),
		})
	}
	return taskTable.Render()
}
