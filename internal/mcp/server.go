// Package mcp exposes trial matching to MCP clients as tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// Server is an MCP server backed by the shared application components
type Server struct {
	app       *app.App
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(a *app.App) *Server {
	cfg := a.Config.MCP
	name := cfg.ServerName
	if name == "" {
		name = "clinical-trial-matcher"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v1.0.0"
	}

	s := &Server{
		app:       a,
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		logger:    a.Logger,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdin and stdout until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithField("transport", "stdio").Info("Starting MCP server")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Connect serves a single session over t
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}
