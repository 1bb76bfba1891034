// Package server provides the ops HTTP API: health, bot status, interaction
// history and a live event feed.
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

	"github.com/aristath/stockbot/internal/commands"
	"github.com/aristath/stockbot/internal/database"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/history"
	"github.com/aristath/stockbot/internal/interaction"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/aristath/stockbot/internal/lifecycle"
)

// LifecycleReader exposes the bot state and presence.
type LifecycleReader interface {
	State() lifecycle.State
	Presence() lifecycle.Presence
}

// PendingLister lists interactions still waiting for their follow-up.
type PendingLister interface {
	Pending() []interaction.Record
}

// JobLister lists running jobs.
type JobLister interface {
	InFlight() []jobs.Running
}

// CommandLister lists registered commands.
type CommandLister interface {
	Descriptors() []commands.Descriptor
}

// HistoryReader reads stored interactions.
type HistoryReader interface {
	List(ctx context.Context, limit int, command string) ([]interaction.Record, error)
	Get(ctx context.Context, id string) (*interaction.Record, error)
	Stats(ctx context.Context) (*history.Stats, error)
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Lifecycle LifecycleReader
	Pending   PendingLister
	Jobs      JobLister
	Commands  CommandLister
	History   HistoryReader
	HistoryDB *database.DB
	EventBus  *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       Config
	system    *SystemHandlers
	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}
	s.system = NewSystemHandlers(cfg.Log)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Get("/status", s.handleStatus)
			r.Get("/commands", s.handleCommands)
			r.Get("/jobs", s.handleJobs)
			r.Get("/system", s.system.HandleSystemStats)

			r.Route("/interactions", func(r chi.Router) {
				r.Get("/", s.handleListInteractions)
				r.Get("/pending", s.handlePendingInteractions)
				r.Get("/stats", s.handleInteractionStats)
				r.Get("/{id}", s.handleGetInteraction)
			})
		})

		// Long-lived streams sit outside the timeout and compression middleware.
		if s.cfg.EventBus != nil {
			r.Get("/events/stream", NewEventsStreamHandler(s.cfg.EventBus, s.cfg.Log).ServeHTTP)
			r.Get("/events/ws", NewEventsSocketHandler(s.cfg.EventBus, s.cfg.Log).ServeHTTP)
		}
	})
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
