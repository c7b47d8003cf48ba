package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/recordsearch-mcp/internal/engine"
)

const (
	// ServerName is the MCP server name
	ServerName = "recordsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes an engine over MCP
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates a new MCP server instance. The engine stays owned by
// the caller.
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		engine: eng,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio until ctx is done or the input closes.
// stdout carries protocol frames only; logs go to the logger.
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen serves the protocol over an arbitrary reader and writer
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP",
		slog.String("server", ServerName),
		slog.String("version", ServerVersion))
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentsTool(), s.handleIndexDocuments)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(getEntityDocumentsTool(), s.handleGetEntityDocuments)
	s.mcp.AddTool(listEntitiesTool(), s.handleListEntities)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
