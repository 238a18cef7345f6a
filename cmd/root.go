// Package cmd provides the CLI commands.
//
// Commands:
//   - serve: HTTP API server, worker pipeline and recovery sweep
//   - ingest: index a document from local text files
//   - ask: one-shot question against a session
//   - sessions: list conversation sessions
//   - version: build information
//
// All long-running commands shut down gracefully on SIGINT/SIGTERM via
// context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Inkwell answers questions about your documents",
	Long: `Inkwell ingests documents, indexes them into a vector store and answers
questions about them, grounded in the retrieved passages and with source
references on every answer.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger. DEBUG in the environment
// switches to debug level.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads and validates the application configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
