// Package statusapi exposes a read-only JSON status surface for the
// engine: a health check and a single snapshot endpoint covering ladder
// cells, commitment, P&L, and market data. Adapted from the teacher's
// dashboard server, trimmed to a read-only surface with no WebSocket push
// hub and no per-market slot registry — this engine runs one symbol.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ladder-mm/internal/config"
)

// Provider is the minimal capability the status API needs from the engine.
type Provider interface {
	Snapshot() Snapshot
}

// Server runs the read-only status HTTP server.
type Server struct {
	cfg      config.StatusConfig
	provider Provider
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server. provider is queried fresh on every request —
// there is no caching layer, since a snapshot is cheap to assemble.
func NewServer(cfg config.StatusConfig, provider Provider, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, provider: provider, logger: logger.With("component", "status-api")}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Start runs the server until it errors or is shut down; returns nil on a
// graceful Stop.
func (s *Server) Start() error {
	s.logger.Info("status api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
