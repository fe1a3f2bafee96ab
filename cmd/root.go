package cmd

import (
	"github.com/mantidfuzz/mantid/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cmdLogger is the logger used by CLI command handlers before and during campaign setup.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true)

var rootCmd = &cobra.Command{
	Use:   "mantid",
	Short: "A mutation-based, coverage-guided fuzzing engine",
	Long:  "mantid is a mutation-based, coverage-guided fuzzing engine for byte-oriented targets",
}

func Execute() error {
	return rootCmd.Execute()
}
