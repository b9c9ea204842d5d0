// Command strata runs entity operations against the configured adapter.
// Usage: strata [--config file] [--tenant t] [--log-level l] <command>
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
