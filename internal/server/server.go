// Package server is the HTTP surface: the read-only /api routes from the
// markets module plus tracker lifecycle control and health endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/api"
	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/modules/markets"
	"github.com/aristath/perptrack/internal/tracker"
)

// Config holds server configuration
type Config struct {
	Port    int
	Log     zerolog.Logger
	Markets *markets.Handler
	Manager *tracker.Manager
	WriteDB *database.DB
	ReadDB  *database.DB
	DevMode bool
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	manager *tracker.Manager
	writeDB *database.DB
	readDB  *database.DB
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		manager: cfg.Manager,
		writeDB: cfg.WriteDB,
		readDB:  cfg.ReadDB,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg.Markets)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(marketsHandler *markets.Handler) {
	s.router.Get("/health", s.handleHealth)

	s.router.Mount("/api", marketsHandler.Routes())
	s.router.Get("/api/system/health", s.handleSystemHealth)

	s.router.Route("/tracker/{exchange}", func(r chi.Router) {
		r.Get("/status", s.handleTrackerStatus)
		r.Get("/debug", s.handleTrackerDebug)
		r.Post("/start", s.handleTrackerStart)
		r.Post("/stop", s.handleTrackerStop)
	})

	s.router.NotFound(api.NotFound)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the configured router; tests drive it directly.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs requests with zerolog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	})
}
