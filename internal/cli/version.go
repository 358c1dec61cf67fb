package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"imgcat/internal/startup"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		b := startup.GetBuildInfo()
		fmt.Fprintf(cmd.OutOrStdout(), "imgcat %s (commit %s, built %s, %s %s/%s)\n",
			b.Version, b.Commit, b.BuildTime, b.GoVersion, b.OS, b.Arch)
	},
}
