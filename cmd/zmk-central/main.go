package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zmk-central",
	Short: "Split keyboard BLE central",
	Long: `Central-side controller for a split keyboard wireless link:

- Scans for and connects to split peripherals advertising the split service
- Discovers the split GATT service and subscribes to key, sensor and battery state
- Publishes decoded domain events to consumers (in-process or Redis)
- Forwards behavior invocations, indicator, layer and layout updates to peripherals`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file")
}
