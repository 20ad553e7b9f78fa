// Package cli implements the mapsync command line: the server, map
// administration and an interactive canvas over a live session.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mapsync/internal/config"
	"mapsync/internal/di"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the mapsync command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mapsync",
		Short: "Collaborative mind-map sync engine",
		Long: `mapsync keeps an in-memory mind-map graph in sync with a shared store.
Local edits are written back after a quiet period and edits from other
clients are picked up through the store's change feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("MAPSYNC_CONFIG"), "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newServeCommand(opts),
		newMapCommand(opts),
		newReplCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		Bad.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// load reads the configuration. quietLevel applies when no level was asked
// for on the command line, so one-shot commands do not print server logs.
func (o *globalOptions) load(quietLevel string) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	switch {
	case o.logLevel != "":
		cfg.Log.Level = o.logLevel
	case quietLevel != "":
		cfg.Log.Level = quietLevel
	}
	return cfg, nil
}

// container loads the configuration and wires the application
func (o *globalOptions) container(ctx context.Context, quietLevel string) (*di.Container, func(), error) {
	cfg, err := o.load(quietLevel)
	if err != nil {
		return nil, nil, err
	}
	c, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return c, func() {
		cleanup()
		_ = c.Logger.Sync()
	}, nil
}
