// Package server exposes the chat engine over HTTP: a WebSocket endpoint for
// streaming conversations plus JSON endpoints for model listing and runtime
// stats.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/parley/internal/chat"
	"github.com/raphaelgruber/parley/internal/config"
	"github.com/raphaelgruber/parley/internal/metrics"
	"github.com/raphaelgruber/parley/internal/provider"
	"github.com/raphaelgruber/parley/internal/session"
)

// Store is the persistence surface the server needs: the session-level sink
// plus conversation lookup so a socket can resume a stored conversation.
type Store interface {
	session.Store
	LoadConversation(ctx context.Context, id string) (*chat.Conversation, error)
}

// Server wires the provider registry and optional store behind HTTP handlers.
type Server struct {
	cfg       config.Config
	registry  *provider.Registry
	collector *metrics.Collector
	store     Store
	logger    *slog.Logger

	httpServer *http.Server
}

// New creates a server. store may be nil when persistence is disabled.
func New(cfg config.Config, registry *provider.Registry, collector *metrics.Collector, store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		collector: collector,
		store:     store,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // streaming responses have no bounded write window
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"namespaces":    s.registry.Namespaces(),
		"default_model": s.cfg.DefaultModel,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeJSON(w, metrics.Snapshot{})
		return
	}
	writeJSON(w, s.collector.TakeSnapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
