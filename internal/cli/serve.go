package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mapsync/internal/config"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and canvas websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *globalOptions) error {
	c, cleanup, err := opts.container(ctx, "")
	if err != nil {
		return err
	}
	defer cleanup()
	logger := c.Logger.Logger

	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, c.Config, nil, logger)
		if err != nil {
			logger.Warn("Configuration will not be reloaded", zap.Error(err))
		} else {
			watcher.OnChange(c.ApplyDynamic)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("address", c.Server.Addr),
			zap.String("environment", string(c.Config.Environment)),
			zap.String("store", c.Config.Store.Driver),
			zap.Bool("auth", c.Config.Auth.Enabled),
			zap.Strings("config_sources", c.Config.LoadedFrom),
		)
		if err := c.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Config.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
