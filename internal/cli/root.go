// Package cli provides the codewright command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/codewright/codewright/internal/cli.version=1.2.3"
	version = "0.3.0"
)

var rootCmd = &cobra.Command{
	Use:   "codewright",
	Short: "codewright - coding agent for your terminal",
	Long:  "An AI coding agent that drives a model across tool-calling turns,\ngated by a per-project permission system.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(grantsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("codewright " + version)
	},
}
