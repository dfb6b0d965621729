package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/stemsplit-api/internal/config"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stemctl",
		Short:         "Operate the stem separation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(separateCmd())
	rootCmd.AddCommand(creditsCmd())
	return rootCmd
}

// loadConfig reads the service configuration and builds a logger that writes
// to stderr, leaving stdout to command output. With quiet set only warnings
// and errors are logged.
func loadConfig(stderr io.Writer, quiet bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
