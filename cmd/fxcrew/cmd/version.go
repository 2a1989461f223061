package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cmd.version=".
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the fxcrew CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fxcrew version %s\n", version)
		fmt.Fprintln(cmd.OutOrStdout(), "Budget-gated, risk-bounded FX decision pipeline")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
