// Command extipcd is the launcher daemon: it serves the client gateway on a
// unix socket and supervises the extension host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at link time with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "extipcd",
	Short:         "Launcher daemon serving the extension IPC gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Aliases: []string{"ver"},
	Short:   "Show version and build information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version %s (commit %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "extipcd:", err)
		os.Exit(1)
	}
}
