package cmd

import (
	"github.com/spf13/cobra"

	"github.com/weft-run/weft/internal/build"
)

func CmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Long:  `Print the current version of the weft executable.`,
		Run: func(_ *cobra.Command, _ []string) {
			println(build.Version)
		},
	}
}
