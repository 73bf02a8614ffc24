// ABOUTME: Server orchestrator that wires store, presence registry, conversation service and HTTP endpoints
// ABOUTME: Manages the HTTP listener, health/readiness/metrics endpoints and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/realtime"
	"github.com/2389/huddle/internal/store"
)

// UpdatesPath is where clients open their real-time connection
const UpdatesPath = "/updates"

// Server owns the chat core and exposes its real-time and operational
// endpoints over HTTP.
type Server struct {
	config       *config.Config
	store        *store.SQLiteStore
	registry     *presence.Registry
	typing       *dedupe.Cache
	conversation *conversation.Service
	verifier     *auth.JWTVerifier
	httpServer   *http.Server
	logger       *slog.Logger
}

// New builds every component from cfg. Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := presence.NewRegistry(logger)
	typing := dedupe.New(cfg.Realtime.TypingTTL, cfg.Realtime.TypingCacheSize)

	s := &Server{
		config:       cfg,
		store:        st,
		registry:     registry,
		typing:       typing,
		conversation: conversation.New(st, registry, typing, logger),
		verifier:     verifier,
		logger:       logger.With("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.Handle("GET "+UpdatesPath, realtime.Handler(s.registry, s.verifier, realtime.Options{
		WriteTimeout: s.config.Realtime.WriteTimeout,
	}, logger))

	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, promhttp.Handler())
	}

	return mux
}

// Conversation returns the chat service for in-process request layers
func (s *Server) Conversation() *conversation.Service {
	return s.conversation
}

// Registry returns the presence registry
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Handler returns the HTTP handler, for mounting under another server or in tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is canceled or
// the listener fails, then shuts down. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		s.close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the caller's is already canceled
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown closes live WebSocket connections, stops the HTTP server and
// releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error

	// Hijacked WebSocket connections are not tracked by http.Server
	errs = appendCloseError(errs, "closing connections", s.registry.Close(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", s.close())

	return errors.Join(errs...)
}

// close releases the components that outlive requests
func (s *Server) close() error {
	s.typing.Close()
	return s.store.Close()
}

// handleHealth returns 200 OK if the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", len(s.registry.OnlineUserIDs()))
}
