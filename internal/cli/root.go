// Package cli implements the shannon command line.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/a9lim/shannon/internal/cli.version=1.2.3"
var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "shannon",
	Short: "Shannon - autonomous chat assistant",
	Long: color.CyanString("Shannon") + " is an LLM-driven assistant that listens on chat platforms\n" +
		"and webhooks, runs tools, remembers things, and plans multi-step work.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
