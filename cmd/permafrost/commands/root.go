// Package commands implements the CLI commands for the permafrost
// lifecycle manager.
package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile     string
	rootOutput  string
	rootNoColor bool
	rootVerbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "permafrost",
	Short: "Permafrost - Snapshot repository archival lifecycle manager",
	Long: `Permafrost manages the archival lifecycle of search-cluster snapshot
repositories on tiered object storage. It rotates the repository that is
actively written to, archives aged-out repositories to cold storage, thaws
a date range of archived data back to instant access for querying, and
refreezes it when done.

Use "permafrost [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext is Execute with a caller-provided context; command RunE
// bodies read it via cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/permafrost/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootOutput, "output", "o", "table", "Output format (table|json|tsv)")
	rootCmd.PersistentFlags().BoolVar(&rootNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable verbose (debug) logging")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(thawCmd)
	rootCmd.AddCommand(refreezeCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
