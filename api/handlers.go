package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/sseview/pkg/aggregator"
	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/protocol"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeliverResponse acknowledges a delivered message.
type DeliverResponse struct {
	Status string `json:"status"`
}

// ContextsResponse lists the browsing contexts that announced themselves.
type ContextsResponse struct {
	Contexts []aggregator.LoadedContext `json:"contexts"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleDeliver accepts one cross-context message from a page context.
func (s *Server) handleDeliver(c *fiber.Ctx) error {
	contextID := c.Params("context")

	msg, err := protocol.DecodeMessage(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	if err := s.aggregator.Deliver(c.Context(), contextID, msg); err != nil {
		return s.errorResponse(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DeliverResponse{Status: "accepted"})
}

// handleListSessions returns the allSSERequests snapshot for a context.
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	contextID := c.Params("context")

	sessions, err := s.aggregator.Sessions(c.Context(), contextID)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(protocol.AllSessions(contextID, sessions))
}

// handleClearSessions clears a context and returns its now empty snapshot.
func (s *Server) handleClearSessions(c *fiber.Ctx) error {
	contextID := c.Params("context")

	n, err := s.aggregator.Clear(c.Context(), contextID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	s.logger.Debug("cleared sessions", "context", contextID, "count", n)

	return c.JSON(protocol.AllSessions(contextID, nil))
}

// handleGetSession returns one session owned by the context.
func (s *Server) handleGetSession(c *fiber.Ctx) error {
	contextID := c.Params("context")
	sessionID := c.Params("session")

	session, err := s.aggregator.Session(c.Context(), sessionID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if contextID != aggregator.WildcardContext && session.ContextID != contextID {
		return s.errorResponse(c, capture.NotFoundError{ID: sessionID})
	}

	return c.JSON(session)
}

// handleListContexts returns the contexts that reported CONTENT_SCRIPT_LOADED.
func (s *Server) handleListContexts(c *fiber.Ctx) error {
	contexts, err := s.aggregator.LoadedContexts(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(ContextsResponse{Contexts: contexts})
}

// errorResponse maps aggregator and registry errors to status codes.
func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	var notFound capture.NotFoundError

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrInvalidMessage):
		status = fiber.StatusBadRequest
	case errors.Is(err, capture.ErrDuplicateSession), errors.Is(err, capture.ErrSessionExists):
		status = fiber.StatusConflict
	case errors.As(err, &notFound):
		status = fiber.StatusNotFound
	case errors.Is(err, aggregator.ErrClosed):
		status = fiber.StatusServiceUnavailable
	default:
		s.logger.Error("api request failed", "path", c.Path(), "error", err)
	}

	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}
