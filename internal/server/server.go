// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go builds the pool, bridge, cache and UserService once and passes
// the service in here. Nothing is looked up globally.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/userauth/internal/handler"
	"github.com/sakif/userauth/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port            int
	URLPrefix       string
	ShutdownTimeout time.Duration
}

// Users is everything the routes need from the user service.
type Users interface {
	handler.UserService
	middleware.Authorizer
}

// Server represents the HTTP server and the resources it owns.
//
// RESOURCE MANAGEMENT:
// The closers (bridge, cache client) are closed after the HTTP server has
// drained, so in-flight requests never see a closed pool.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	closers []io.Closer
}

// New builds the router. closers are released, in order, when Start
// returns.
func New(cfg Config, users Users, logger *slog.Logger, closers ...io.Closer) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.URLPrefix = "/" + strings.Trim(cfg.URLPrefix, "/")

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		closers: closers,
	}
	s.setupRoutes(users)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE ({prefix} is URL_PREFIX, default /api):
// GET    {prefix}/health          → liveness probe
// POST   {prefix}/user/register   → create account
// POST   {prefix}/user/login      → log in, get (rotated) token
// GET    {prefix}/user/get        → own account, requires token header
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: tags the request (xid) before anything logs
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(users Users) {
	s.router.Use(middleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	userHandler := handler.NewUserHandler(users, s.logger)

	s.router.Route(s.config.URLPrefix, func(r chi.Router) {
		r.Get("/health", userHandler.HandleHealth)

		r.Route("/user", func(r chi.Router) {
			r.Post("/register", userHandler.HandleRegister)
			r.Post("/login", userHandler.HandleLogin)

			r.With(middleware.RequireToken(users, s.logger)).Get("/get", userHandler.HandleGet)
		})
	})
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (ShutdownTimeout)
// 3. Close the owned resources (bridge → pool → database)
func (s *Server) Start() error {
	defer s.closeAll()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("prefix", s.config.URLPrefix),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) closeAll() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
}
