package web

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cadastre-match/internal/web/handlers"
	"github.com/cadastre-match/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *Config
	deps       handlers.Deps
	health     func(ctx context.Context) error
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	logger     *zap.Logger
}

// NewServer creates a new web server instance. health may be nil.
func NewServer(config *Config, deps handlers.Deps, health func(ctx context.Context) error) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	server := &Server{
		config: config,
		deps:   deps,
		health: health,
		logger: deps.Logger,
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         config.Server.Addr,
		Handler:      server.handler,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}
	return server
}

// Handler exposes the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	matchHandler := handlers.NewMatchHandler(s.deps, handlers.Config{
		AutoApplyEnabled: s.config.Features.AutoApplyEnabled,
	})
	patternHandler := handlers.NewPatternHandler(s.deps)
	healthHandler := &handlers.HealthHandler{Check: s.health, Logger: s.logger}

	s.router.HandleFunc("/healthz", healthHandler.Health).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Scoring endpoints never write
	api.HandleFunc("/matches", matchHandler.FindMatches).Methods("POST")
	api.HandleFunc("/classify", matchHandler.Classify).Methods("GET")
	api.HandleFunc("/municipalities/{municipality}/patterns", patternHandler.GetPatterns).Methods("GET")

	// Proposal lifecycle needs a proposal store
	if s.deps.Engine.Recorder() != nil {
		proposalHandler := handlers.NewProposalHandler(s.deps)
		api.HandleFunc("/records/{id}/reconcile", matchHandler.Reconcile).Methods("POST")
		api.HandleFunc("/records/{id}/proposals", proposalHandler.ListProposals).Methods("GET")
		api.HandleFunc("/proposals/{id}", proposalHandler.GetProposal).Methods("GET")
		api.HandleFunc("/proposals/{id}/apply", proposalHandler.Apply).Methods("POST")
		api.HandleFunc("/proposals/{id}/reject", proposalHandler.Reject).Methods("POST")
	}

	// Apply middleware. CORS wraps the router so preflights never reach route matching.
	s.router.Use(middleware.RequestLogging(s.logger))
	api.Use(middleware.Authentication(s.config.Auth.APIKey))
	s.handler = middleware.CORS()(s.router)
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}
