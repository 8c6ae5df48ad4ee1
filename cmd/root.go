package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (startup failure, invalid config).
	ExitCodeError = 1
)

// rootCmd is the entry point when gatewayd is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Aggregate MCP backend processes behind one authenticated endpoint",
	Long: `gatewayd is a protocol gateway: it runs a set of MCP stdio backend
processes, merges their tool/resource/prompt catalogs into one view, and
serves that view over an authenticated SSE/JSON-RPC endpoint.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main with
// the build-time version string.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the CLI entry point, called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gatewayd version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
