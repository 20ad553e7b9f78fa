// Package di wires the application together with google/wire.
package di

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/application/services"
	"mapsync/internal/application/session"
	"mapsync/internal/config"
	"mapsync/internal/infrastructure/observability"
	"mapsync/internal/interfaces/websocket"
	"mapsync/pkg/auth"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracing   *observability.TracerProvider
	Store     ports.Store
	Maps      services.MapService
	Sessions  *session.Manager
	Validator *auth.Validator
	Hub       *websocket.Hub
	Server    *http.Server
}

// Shutdown stops accepting requests, disconnects every canvas (each flushes
// its session on the way out) and flushes any session left open.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.Server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	c.Hub.Stop()
	if err := c.Sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		c.Logger.Error("Shutdown finished with errors", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

// ApplyDynamic applies live-reloaded settings
func (c *Container) ApplyDynamic(d config.Dynamic) {
	if err := c.Logger.SetLevel(d.LogLevel); err != nil {
		c.Logger.Warn("Ignoring log level", zap.Error(err))
	}
	if d.DebounceWindow > 0 {
		c.Sessions.SetDebounceWindow(d.DebounceWindow)
	}
}
