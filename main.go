package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/build"
	"github.com/weft-run/weft/internal/cmd"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Weft is a declarative workflow execution platform",
	Long: `Weft runs declarative workflows across a pool of workers.

A workspace of YAML declarations defines reusable actions, tasks that
compose them into dependency flows, and cron triggers that fire them.
The server queues jobs and serves the workspace; workers claim jobs and
execute them in runner child processes.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.CmdServer())
	rootCmd.AddCommand(cmd.CmdWorker())
	rootCmd.AddCommand(cmd.CmdRun())
	rootCmd.AddCommand(cmd.CmdTasks())
	rootCmd.AddCommand(cmd.CmdVersion())
}
