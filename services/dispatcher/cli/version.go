package cli

import (
	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/agentq/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		version.Fprint(cmd.OutOrStdout(), "agentctl")
	},
}
