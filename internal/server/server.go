// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ladderfi/bondd/internal/server/handler"
	"github.com/ladderfi/bondd/internal/server/middleware"
	"github.com/ladderfi/bondd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Ledger *handler.LedgerHandler
}

// Server is the headless HTTP + WebSocket API for the bond ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (CORS, logging, auth) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Ledger state and history.
	mux.HandleFunc("GET /api/ledger", handlers.Ledger.GetLedger)
	mux.HandleFunc("GET /api/ledger/slashes", handlers.Ledger.ListSlashes)
	mux.HandleFunc("GET /api/ledger/events", handlers.Ledger.ListEvents)

	// Ledger operations.
	mux.HandleFunc("POST /api/ledger/deposit", handlers.Ledger.Deposit)
	mux.HandleFunc("POST /api/ledger/slash", handlers.Ledger.Slash)
	mux.HandleFunc("POST /api/ledger/redemption", handlers.Ledger.AllowRedemption)
	mux.HandleFunc("POST /api/ledger/redeem", handlers.Ledger.Redeem)
	mux.HandleFunc("POST /api/ledger/withdraw", handlers.Ledger.Withdraw)
	mux.HandleFunc("POST /api/ledger/expire", handlers.Ledger.Expire)
	mux.HandleFunc("PUT /api/ledger/treasury", handlers.Ledger.SetTreasury)
	mux.HandleFunc("POST /api/ledger/pause", handlers.Ledger.Pause)
	mux.HandleFunc("POST /api/ledger/unpause", handlers.Ledger.Unpause)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
