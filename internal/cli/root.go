// Package cli provides the command-line interface for dupreaper.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/internal/splunk"
)

// Version is set at build time.
var Version = "0.1.0"

// Platform is the remote search platform a run talks to.
type Platform interface {
	dedup.JobClient
	dedup.ResultExtractor
	Ready(ctx context.Context) error
}

// connectPlatform builds the Splunk client and waits for it to accept the
// token. Tests replace it.
var connectPlatform = func(ctx context.Context, cfg config.SplunkConfig) (Platform, error) {
	client := splunk.NewHTTPClient(cfg)
	if err := splunk.ConnectWithRetry(ctx, client, cfg.ConnectRetry); err != nil {
		return nil, err
	}
	return client, nil
}

// NewRootCmd builds the dupreaper command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dupreaper",
		Short: "Find and delete duplicate events in Splunk",
		Long: `Dupreaper searches a Splunk index for events indexed more than once and
deletes one surplus copy of each per pass, in bounded batches of deletion jobs.

Runs can be started once from the command line or through the HTTP API.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newAPIKeyCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// setupLogging installs the process logger and returns its cleanup.
func setupLogging(cfg *config.Config, debug bool) (*slog.Logger, func() error) {
	level := config.ParseLevel(cfg.Log.Level)
	if debug {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.Log.File, level)
	slog.SetDefault(logger)
	return logger, closeLog
}
