// Package server wires the HTTP surface together: credential endpoints,
// the WebSocket upgrade path, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/calebferris/parley/internal/auth"
	"github.com/calebferris/parley/internal/chat"
	"github.com/calebferris/parley/internal/config"
	"github.com/calebferris/parley/internal/message"
	"github.com/calebferris/parley/internal/presence"
	"github.com/calebferris/parley/internal/ratelimit"
	"github.com/calebferris/parley/internal/ws"
)

// Server is the assembled chat server.
type Server struct {
	httpServer *http.Server
	manager    *ws.ConnManager
	log        *zap.Logger

	// Exposed for tests and for cmd wiring.
	Accounts *auth.Accounts
	Tokens   *auth.TokenService
	Presence *presence.Registry
	Protocol *chat.Protocol
}

// New assembles the server around the given message store.
func New(cfg *config.Config, store message.Store, log *zap.Logger) *Server {
	accounts := auth.NewAccounts()
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	registry := presence.NewRegistry()

	var mgrOpts []ws.ConnManagerOption
	if cfg.MaxConns > 0 {
		mgrOpts = append(mgrOpts, ws.WithMaxConns(cfg.MaxConns))
	}
	if cfg.IdleTimeout > 0 {
		mgrOpts = append(mgrOpts, ws.WithIdleTimeout(cfg.IdleTimeout))
	}
	manager := ws.NewConnManager(log, mgrOpts...)

	wsHandler := ws.NewHandler(manager, log)
	protocol := chat.NewProtocol(tokens, registry, store, wsHandler, log, cfg.HistoryLimit)
	wsHandler.SetProtocol(protocol)

	authHandler := auth.NewHandler(accounts, tokens, log)
	limiter := ratelimit.NewIPLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", wsHandler)
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(limiter.Middleware)
		authHandler.Routes(r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		manager:  manager,
		log:      log,
		Accounts: accounts,
		Tokens:   tokens,
		Presence: registry,
		Protocol: protocol,
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and closes all live WebSockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
