// Command cocoasync is the offline sync engine's maintenance CLI:
// diagnostics for support/debugging, a user-initiated reset, and a
// standalone schema-migration check, mirroring the split between a
// daemon's own CLI and a separate maintenance binary.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/cocoasync/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cocoasync",
	Short:   "cocoasync - offline-first field data sync engine maintenance tool",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cocoasync version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./data", "Embedded store data directory")
	rootCmd.PersistentFlags().String("config", "", "Path to config YAML (defaults used if absent)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(migrateCheckCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
