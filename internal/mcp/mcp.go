// Package mcp implements the Model Context Protocol server for Kensaku.
//
// The MCP server exposes retrieval through an MCP tool, allowing
// MCP-compatible AI agents to query the knowledge base over the same
// access-controlled pipeline as the HTTP API. It is mounted on the HTTP
// server behind the shared auth middleware, so the authenticated user
// arrives through the request context.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kensaku/internal/model"
)

// Executor runs one retrieval request end to end.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, req model.QueryRequest, user model.UserContext) ([]model.Context, *model.Metrics, error)
}

// Server wraps the MCP server with Kensaku's retrieval engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Executor
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(engine Executor, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kensaku",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
