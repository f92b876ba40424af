// Package mcp provides an MCP (Model Context Protocol) server exposing
// captured SSE sessions to agents.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/utils"
)

// SessionSource is the read and clear surface of the aggregator.
type SessionSource interface {
	Sessions(ctx context.Context, contextID string) (map[string]*capture.Session, error)
	Session(ctx context.Context, sessionID string) (*capture.Session, error)
	Clear(ctx context.Context, contextID string) (int, error)
}

type Config struct {
	// Sessions answers every tool call
	Sessions SessionSource

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured slog logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the session tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "sseview",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)
	s.mcpServer = mcpServer

	if !c.Noop {
		if c.Sessions == nil {
			return nil, errors.New("session source is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        listSessionsToolName,
			Description: listSessionsDescription,
		}, s.handleListSessions)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        getSessionToolName,
			Description: getSessionDescription,
		}, s.handleGetSession)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        clearSessionsToolName,
			Description: clearSessionsDescription,
		}, s.handleClearSessions)
	}

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
