package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is set by build flags.
	Version = "0.1.0"
	// GitCommit is set by build flags.
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "signup-server %s (%s, %s)\n", Version, GitCommit, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
