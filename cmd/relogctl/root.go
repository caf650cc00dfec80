package main

import (
	"errors"
	"os"

	"github.com/bitdabbler/relog"
	"github.com/spf13/cobra"
)

// Exit codes for relogctl commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeLocked indicates the spool directory is held by another process.
	ExitCodeLocked = 2
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "relogctl",
	Short: "Inspect and replay relog spool directories",
	Long: `relogctl works on the disk spool of a relog delivery pipeline: it
describes the segments, prints the events still waiting for delivery, and
replays them to a Fluent collector.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits with a code matching the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "relogctl version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if errors.Is(err, relog.ErrLocked) {
		return ExitCodeLocked
	}
	return ExitCodeError
}
