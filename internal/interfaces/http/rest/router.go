// Package rest wires the HTTP surface: map lifecycle endpoints, the canvas
// websocket, health and metrics.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mapsync/internal/infrastructure/observability"
	"mapsync/internal/interfaces/http/rest/handlers"
	"mapsync/internal/interfaces/http/rest/middleware"
	"mapsync/internal/interfaces/websocket"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	AllowedOrigins []string
	EnableMetrics  bool
}

// Router creates and configures the HTTP router
type Router struct {
	maps      *handlers.MapHandler
	canvas    *websocket.Server
	validator middleware.TokenValidator
	metrics   *observability.Metrics
	cfg       RouterConfig
	logger    *zap.Logger
}

// NewRouter creates a router. A nil validator leaves the API unauthenticated.
func NewRouter(
	maps *handlers.MapHandler,
	canvas *websocket.Server,
	validator middleware.TokenValidator,
	metrics *observability.Metrics,
	cfg RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		maps:      maps,
		canvas:    canvas,
		validator: validator,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	if rt.cfg.EnableMetrics {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Route("/api/maps", func(r chi.Router) {
		// the canvas authenticates itself: browsers cannot set headers on an upgrade
		r.Get("/{mapID}/canvas", rt.canvas.HandleCanvas)

		r.Group(func(r chi.Router) {
			if rt.validator != nil {
				r.Use(middleware.Authenticate(rt.validator, rt.logger))
			}
			r.Get("/", rt.maps.ListMaps)
			r.Post("/", rt.maps.CreateMap)
			r.Get("/{mapID}", rt.maps.GetMap)
			r.Patch("/{mapID}", rt.maps.UpdateMap)
			r.Delete("/{mapID}", rt.maps.DeleteMap)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
