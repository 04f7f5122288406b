// Package server provides the HTTP server for the weave session protocol:
// the SSE stream endpoint agents hold open, and the command endpoints the
// protocol operations map onto.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/weavemesh/weave/internal/session"
)

// Config holds server configuration.
type Config struct {
	Host       string
	Port       int
	EnableCORS bool
	// ReadTimeout applies to request headers and bodies. There is no write
	// timeout: SSE streams stay open indefinitely.
	ReadTimeout time.Duration
	// Heartbeat is the SSE comment interval that keeps idle streams alive.
	Heartbeat time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        5555,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		Heartbeat:   30 * time.Second,
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	sessions *session.Store
}

// New creates a new Server instance.
func New(cfg *Config) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: session.NewStore(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes all session buses,
// which terminates every open stream.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.sessions.Close(); err != nil {
		return err
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, used by tests to mount the server on an
// httptest listener.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the session store, used by tests to inspect state.
func (s *Server) Sessions() *session.Store {
	return s.sessions
}
