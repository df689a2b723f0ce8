// Package api provides the HTTP admin and query surface of the index bridge.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/indexbridge/internal/content"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/ratelimit"
	"github.com/listenupapp/indexbridge/internal/rebuild"
	"github.com/listenupapp/indexbridge/internal/search"
)

// Gate reports ownership and readiness of this process.
type Gate interface {
	IsOwner() bool
	IsReady() bool
}

// Services holds the components handlers call into.
type Services struct {
	Indexes  *search.Manager
	Rebuilds *rebuild.Orchestrator
	Gate     Gate
	Content  *content.Store // Optional; reported by the health check
}

// Options configures a Server.
type Options struct {
	Services       Services
	RebuildLimiter *ratelimit.KeyedRateLimiter // Optional per-client limit on rebuild triggers
	RebuildDelay   time.Duration               // Delay applied to background rebuilds
	AllowedOrigins []string                    // CORS origins (default: all)
	Logger         *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services     Services
	limiter      *ratelimit.KeyedRateLimiter
	rebuildDelay time.Duration
	router       *chi.Mux
	api          huma.API
	logger       *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(opts Options) *Server {
	s := &Server{
		services:     opts.Services,
		limiter:      opts.RebuildLimiter,
		rebuildDelay: opts.RebuildDelay,
		router:       chi.NewRouter(),
		logger:       logger.Component(opts.Logger, "api"),
	}

	s.setupMiddleware(opts.AllowedOrigins)

	humaConfig := huma.DefaultConfig("IndexBridge API", "1.0.0")
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerIndexRoutes()
	s.registerRebuildRoutes()
	s.registerSearchRoutes()
	s.registerDocumentRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, e.g. for OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	s.router.Use(s.rebuildRateLimit)
}
