package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kensaku/internal/auth"
	"github.com/ashita-ai/kensaku/internal/model"
)

// Server is the retrieval HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Purger, MetadataReady, IndexReady, MCPServer.
type ServerConfig struct {
	Engine Executor
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	Purger        CachePurger
	MetadataReady Readiness
	IndexReady    Readiness
	MCPServer     *mcpserver.MCPServer

	// APIKeyHash enables X-API-Key service auth when non-empty (Argon2id).
	APIKeyHash string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Purger:              cfg.Purger,
		MetadataReady:       cfg.MetadataReady,
		IndexReady:          cfg.IndexReady,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.Handle("POST /v1/retrieve", http.HandlerFunc(h.HandleRetrieve))

	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/cache/purge", adminOnly(http.HandlerFunc(h.HandleCachePurge)))

	// MCP over streamable HTTP, sharing the auth middleware with the REST API.
	if cfg.MCPServer != nil {
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", streamable)
	}

	var handler http.Handler = mux
	handler = authMiddleware(cfg.JWTMgr, cfg.APIKeyHash, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
