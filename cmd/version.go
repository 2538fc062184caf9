package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ui.JSON(map[string]string{
			"version": buildVersion,
			"commit":  buildCommit,
			"date":    buildDate,
			"go":      runtime.Version(),
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
