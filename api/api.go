package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/papercomputeco/sseview/api/mcp"
	"github.com/papercomputeco/sseview/pkg/aggregator"
)

// Server is the API server in front of an aggregator.
//
// Plain request/response routes are served by a fiber app. The observer
// websocket needs a hijackable net/http connection, so the fiber app, the
// websocket route and the MCP endpoint share a net/http mux.
type Server struct {
	config     Config
	aggregator *aggregator.Aggregator
	logger     *slog.Logger
	app        *fiber.App
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server.
// The aggregator is injected so that an in-process proxy can relay into the
// same instance.
func NewServer(config Config, agg *aggregator.Aggregator, logger *slog.Logger) (*Server, error) {
	if agg == nil {
		return nil, errors.New("aggregator is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Context ids arrive path-escaped.
		UnescapePath: true,
	})

	s := &Server{
		config:     config,
		aggregator: agg,
		logger:     logger,
		app:        app,
		mux:        http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Sessions: agg,
		Noop:     config.DisableMCP,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	app.Get("/ping", s.handlePing)
	app.Get("/v1/contexts", s.handleListContexts)
	app.Post("/v1/contexts/:context/messages", s.handleDeliver)
	app.Get("/v1/contexts/:context/sessions", s.handleListSessions)
	app.Delete("/v1/contexts/:context/sessions", s.handleClearSessions)
	app.Get("/v1/contexts/:context/sessions/:session", s.handleGetSession)

	s.mux.HandleFunc("GET /v1/contexts/{context}/observe", s.handleObserve)
	s.mux.Handle("/mcp", mcpServer.Handler())
	s.mux.Handle("/", adaptor.FiberApp(app))

	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return ignoreClosed(s.httpServer.ListenAndServe())
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server", "listen", listener.Addr().String())
	return ignoreClosed(s.httpServer.Serve(listener))
}

// Shutdown gracefully shuts down the API server. Observer websockets are
// hijacked connections and end when the aggregator closes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.config.AllowedOrigins, origin)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
