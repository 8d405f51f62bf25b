// Package main is the entry point for the borisbikes CLI.
//
// The engine can be run either as a library (SDK) or as a standalone
// binary with YAML configuration. This CLI provides the standalone
// binary approach.
//
// Usage:
//
//	borisbikes serve -c config.yaml    # Run the service
//	borisbikes validate -c config.yaml # Validate configuration
//	borisbikes version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "borisbikes",
	Short: "Live cycle-hire dock availability pushed to the lock screen",
	Long: `Borisbikes keeps iOS Live Activities in sync with London cycle-hire
dock availability.

It polls the TfL BikePoint API for every dock with an active
subscription, pushes counter changes to each subscriber over APNs, and
raises alerts when availability runs low, hits zero, or recovers.

Quick start:
  1. Create a config file (borisbikes.yaml)
  2. Run: borisbikes serve -c borisbikes.yaml
  3. POST /api/activity/start to watch a dock

Example config:
  server:
    port: 8080
  poll:
    interval: 30s
  tfl:
    app_key: ${TFL_APP_KEY}`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this borisbikes binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("borisbikes %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
