package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"flowfield-rts/internal/config"
	"flowfield-rts/internal/game"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for snapshot streaming.
type Server struct {
	engine      *game.Engine
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	logger      *zap.Logger
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// opening network listeners. For HTTP-only tests, use NewRouter() directly.
func NewServer(engine *game.Engine, cfg config.AppConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.rateLimiter = NewIPRateLimiter(cfg.RateLimit)
	s.wsHub = NewWebSocketHub(engine, HubConfig{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		ConnectionsPerIP: cfg.RateLimit.WSConnectionsPerIP,
	}, logger.Named("ws"))

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.Server.AllowedOrigins,
		AdminToken:  cfg.Server.AdminToken,
		Logger:      logger.Named("http"),
		WebSocket:   s.wsHub,
	})

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start runs the WebSocket hub and serves HTTP on addr until Shutdown.
// Returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go s.wsHub.Run()

	s.logger.Info("api server starting", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Router returns the HTTP handler for use with httptest.
//
// Example:
//
//	server := api.NewServer(engine, config.Default(), nil)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/state")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub exposes the WebSocket hub (tests drive Run directly).
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, closes WebSocket clients and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
