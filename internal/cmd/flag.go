package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// commandLineFlag describes one string flag a command registers.
type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
}

// Flags shared across commands.
var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $XDG_CONFIG_HOME/weft/config.yaml)",
	}
	hostFlag = commandLineFlag{
		name:  "host",
		usage: "host address to bind the server to",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "port number to listen on",
	}
	serverFlag = commandLineFlag{
		name:  "server",
		usage: "base URL of the weft server",
	}
	workerIDFlag = commandLineFlag{
		name:  "worker-id",
		usage: "worker identity reported to the server (default: hostname@PID)",
	}
	tokenFlag = commandLineFlag{
		name:  "token",
		usage: "bearer token for the server",
	}
	jobIDFlag = commandLineFlag{
		name:  "job-id",
		usage: "server-assigned ID of the job being executed",
	}
	workspaceFlag = commandLineFlag{
		name:         "workspace",
		shorthand:    "w",
		defaultValue: ".",
		usage:        "workspace directory holding the declarations",
	}
	taskFlag = commandLineFlag{
		name:      "task",
		shorthand: "t",
		usage:     "task to execute",
	}
	actionFlag = commandLineFlag{
		name:      "action",
		shorthand: "a",
		usage:     "action to execute",
	}
	inputFlag = commandLineFlag{
		name:      "input",
		shorthand: "i",
		usage:     "input values as a JSON object",
	}
)

// initFlags registers the command's flags plus the config and quiet
// flags every command carries.
func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	cmd.Flags().BoolP("quiet", "q", false, "suppress log output to the terminal")
	flags = append(flags, configFlag)
	for _, flag := range flags {
		cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

// bindFlags exposes the config flag to the loader through viper.
func bindFlags(cmd *cobra.Command) {
	if flag := cmd.Flags().Lookup("config"); flag != nil {
		_ = viper.BindPFlag("config", flag)
	}
}
