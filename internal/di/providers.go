package di

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mapsync/internal/application/ports"
	"mapsync/internal/application/services"
	"mapsync/internal/application/session"
	"mapsync/internal/config"
	"mapsync/internal/domain/valueobjects"
	"mapsync/internal/infrastructure/observability"
	"mapsync/internal/infrastructure/persistence"
	"mapsync/internal/interfaces/http/rest"
	"mapsync/internal/interfaces/http/rest/handlers"
	"mapsync/internal/interfaces/http/rest/middleware"
	"mapsync/internal/interfaces/websocket"
	"mapsync/pkg/auth"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "mapsync"

// ProvideLogger creates the root logger at the configured level
func ProvideLogger(cfg *config.Config) (*observability.Logger, error) {
	return observability.NewLogger(cfg.Log.Level, string(cfg.Environment))
}

// ProvideZapLogger exposes the zap logger inside the level-aware wrapper
func ProvideZapLogger(logger *observability.Logger) *zap.Logger {
	return logger.Logger
}

// ProvideMetrics creates the Prometheus collectors
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics(MetricsNamespace)
}

// ProvideTracing installs the OTLP exporter when an endpoint is configured.
// The cleanup flushes pending spans.
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx,
		cfg.Tracing.ServiceName,
		string(cfg.Environment),
		cfg.Tracing.Endpoint,
		cfg.Tracing.SampleRatio,
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Tracing.Endpoint != "" {
		logger.Info("Tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideStore opens the configured shared store. It takes the tracer
// provider so store spans are created after tracing is installed.
func ProvideStore(cfg *config.Config, _ *observability.TracerProvider, metrics *observability.Metrics, logger *zap.Logger) (ports.Store, func(), error) {
	return persistence.NewStore(cfg, metrics, logger)
}

// ProvideIDGenerator selects the id strategy for maps, nodes and edges
func ProvideIDGenerator(cfg *config.Config) (valueobjects.IDGenerator, error) {
	return valueobjects.NewIDGenerator(cfg.Sync.IDStrategy)
}

// ProvideMapService creates the map lifecycle service
func ProvideMapService(store ports.Store, ids valueobjects.IDGenerator, logger *zap.Logger) services.MapService {
	return services.NewMapService(store, ids, logger)
}

// ProvideSessionOptions maps the sync config onto session options
func ProvideSessionOptions(cfg *config.Config, ids valueobjects.IDGenerator) session.Options {
	retry := cfg.Sync.Retry
	return session.Options{
		DebounceWindow: cfg.Sync.DebounceWindow.Std(),
		WriteTimeout:   cfg.Sync.WriteTimeout.Std(),
		Retry: session.RetryPolicy{
			InitialInterval: retry.InitialInterval.Std(),
			MaxInterval:     retry.MaxInterval.Std(),
			Multiplier:      retry.Multiplier,
			MaxAttempts:     retry.MaxAttempts,
			MaxElapsed:      retry.MaxElapsed.Std(),
		},
		IDs: ids,
	}
}

// ProvideSessionManager creates the session manager
func ProvideSessionManager(store ports.Store, opts session.Options, metrics *observability.Metrics, logger *zap.Logger) *session.Manager {
	return session.NewManager(store, opts, metrics, logger)
}

// ProvideTokenValidator returns the JWT validator, or nil when auth is off
func ProvideTokenValidator(cfg *config.Config) (*auth.Validator, error) {
	if !cfg.Auth.Enabled {
		return nil, nil
	}
	return auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

// ProvideHub creates the canvas connection hub
func ProvideHub(cfg *config.Config, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(cfg.WebSocket.MaxConnectionsPerMap, logger)
}

// ProvideCanvasServer creates the canvas websocket server
func ProvideCanvasServer(
	cfg *config.Config,
	hub *websocket.Hub,
	sessions *session.Manager,
	maps services.MapService,
	validator *auth.Validator,
	logger *zap.Logger,
) *websocket.Server {
	wsCfg := websocket.DefaultServerConfig()
	wsCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	wsCfg.Client.WriteWait = cfg.WebSocket.WriteWait.Std()
	wsCfg.Client.PongWait = cfg.WebSocket.PongWait.Std()
	wsCfg.Client.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	wsCfg.Client.FlushTimeout = cfg.Sync.WriteTimeout.Std()

	var v websocket.TokenValidator
	if validator != nil {
		v = validator
	}
	return websocket.NewServer(hub, sessions, maps, v, wsCfg, logger)
}

// ProvideMapHandler creates the map REST handler
func ProvideMapHandler(cfg *config.Config, maps services.MapService, logger *zap.Logger) *handlers.MapHandler {
	return handlers.NewMapHandler(maps, cfg.Auth.Enabled, logger)
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	maps *handlers.MapHandler,
	canvas *websocket.Server,
	validator *auth.Validator,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *rest.Router {
	var v middleware.TokenValidator
	if validator != nil {
		v = validator
	}
	return rest.NewRouter(maps, canvas, v, metrics, rest.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		EnableMetrics:  cfg.Server.EnableMetrics,
	}, logger)
}

// ProvideHTTPServer creates the HTTP server. WriteTimeout does not apply to
// hijacked canvas connections.
func ProvideHTTPServer(cfg *config.Config, router *rest.Router) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  60 * time.Second,
	}
}
