//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"mapsync/internal/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideZapLogger,
	ProvideMetrics,
	ProvideTracing,
	ProvideStore,
	ProvideIDGenerator,
	ProvideMapService,
	ProvideSessionOptions,
	ProvideSessionManager,
	ProvideTokenValidator,
	ProvideHub,
	ProvideCanvasServer,
	ProvideMapHandler,
	ProvideRouter,
	ProvideHTTPServer,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The cleanup closes the
// store and flushes traces.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
