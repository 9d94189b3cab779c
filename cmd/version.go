package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const versionTemplate = `sqlforge {{.Version}}

Store backends:
  • SQLite (default, pure Go)
  • MySQL 8.0 / 8.4 LTS

SQL dialect: MySQL SELECT statements.
`

// Version is set at build time via ldflags
var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print sqlforge version and supported store backends",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sqlforge %s (commit: %s, built: %s)\n\n", Version, CommitSHA, BuildDate)
		fmt.Fprintln(out, "Store backends:")
		fmt.Fprintln(out, "  • SQLite (default, pure Go)")
		fmt.Fprintln(out, "  • MySQL 8.0 / 8.4 LTS")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "SQL dialect: MySQL SELECT statements.")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Enable the standard --version flag, matching the `version` subcommand output.
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, CommitSHA, BuildDate)
	rootCmd.SetVersionTemplate(versionTemplate)
}
