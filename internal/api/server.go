package api

import (
	"context"
	"net/http"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/api/handlers"
	"example.com/backstage/services/telemetry/internal/api/middleware"
	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service is everything the HTTP layer needs from the coordinator
type Service interface {
	handlers.TelemetryService
	handlers.StatusProvider
}

// Options carries the optional collaborators of the server
type Options struct {
	Archive handlers.Archive
	Metrics *metrics.Metrics
	Stream  http.HandlerFunc
	Tracer  tracing.Tracer
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	service    Service
	opts       Options
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, service Service, opts Options) *Server {
	if opts.Tracer == nil {
		opts.Tracer = tracing.Disabled()
	}
	server := &Server{
		config:  cfg,
		service: service,
		opts:    opts,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	if app := s.opts.Tracer.Application(); app != nil {
		router.Use(middleware.NewRelicMiddleware(app))
	}

	var scrape http.Handler
	if s.opts.Metrics != nil {
		router.Use(middleware.Metrics(s.opts.Metrics))
		scrape = s.opts.Metrics.Handler()
	}

	handlers.NewHealthHandler(s.service, scrape).RegisterRoutes(router)
	handlers.NewTelemetryHandler(s.service, s.opts.Archive, s.opts.Tracer).RegisterRoutes(router)

	if s.opts.Stream != nil {
		router.GET("/ws", gin.WrapF(s.opts.Stream))
	}

	return router
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
