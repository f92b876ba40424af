package mcp

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/sseview/pkg/capture"
)

const allContexts = "*"

var (
	listSessionsToolName    = "list_sessions"
	listSessionsDescription = "List captured server-sent event sessions. Returns one summary per session (url, method, owning context, start time and event count), oldest first. Omit context_id to list every browsing context."

	getSessionToolName    = "get_session"
	getSessionDescription = "Get one captured server-sent event session by id, including its request params and every event received so far."

	clearSessionsToolName    = "clear_sessions"
	clearSessionsDescription = "Clear the captured sessions of one browsing context. Use \"*\" to clear every context."
)

// ListSessionsInput represents the input arguments for the list_sessions tool.
type ListSessionsInput struct {
	ContextID string `json:"context_id,omitempty" jsonschema:"the browsing context to list (default: every context)"`
}

// SessionSummary is one row of the list_sessions output.
type SessionSummary struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Method     string `json:"method"`
	ContextID  string `json:"context_id"`
	StartedAt  string `json:"started_at"`
	EventCount int    `json:"event_count"`
}

// ListSessionsOutput represents the output of the list_sessions tool.
type ListSessionsOutput struct {
	ContextID string           `json:"context_id"`
	Sessions  []SessionSummary `json:"sessions"`
	Count     int              `json:"count"`
}

// GetSessionInput represents the input arguments for the get_session tool.
type GetSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"the capture session id"`
}

// ClearSessionsInput represents the input arguments for the clear_sessions tool.
type ClearSessionsInput struct {
	ContextID string `json:"context_id" jsonschema:"the browsing context to clear, or * for every context"`
}

// ClearSessionsOutput represents the output of the clear_sessions tool.
type ClearSessionsOutput struct {
	ContextID string `json:"context_id"`
	Cleared   int    `json:"cleared"`
}

func (s *Server) handleListSessions(ctx context.Context, _ *mcp.CallToolRequest, input ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	contextID := input.ContextID
	if contextID == "" {
		contextID = allContexts
	}

	s.config.Logger.Debug("MCP list sessions request", "context", contextID)

	sessions, err := s.config.Sessions.Sessions(ctx, contextID)
	if err != nil {
		return errorResult(fmt.Sprintf("Listing sessions failed: %v", err)), ListSessionsOutput{}, nil
	}

	output := ListSessionsOutput{
		ContextID: contextID,
		Sessions:  summarize(sessions),
	}
	output.Count = len(output.Sessions)

	return jsonResult(output), output, nil
}

// handleGetSession has no structured output: body params are an open-ended
// JSON value that no fixed output schema describes.
func (s *Server) handleGetSession(ctx context.Context, _ *mcp.CallToolRequest, input GetSessionInput) (*mcp.CallToolResult, any, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), nil, nil
	}

	session, err := s.config.Sessions.Session(ctx, input.SessionID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	return jsonResult(session), nil, nil
}

func (s *Server) handleClearSessions(ctx context.Context, _ *mcp.CallToolRequest, input ClearSessionsInput) (*mcp.CallToolResult, ClearSessionsOutput, error) {
	if input.ContextID == "" {
		return errorResult("context_id is required"), ClearSessionsOutput{}, nil
	}

	n, err := s.config.Sessions.Clear(ctx, input.ContextID)
	if err != nil {
		return errorResult(fmt.Sprintf("Clearing sessions failed: %v", err)), ClearSessionsOutput{}, nil
	}

	s.config.Logger.Info("MCP cleared sessions", "context", input.ContextID, "count", n)

	output := ClearSessionsOutput{ContextID: input.ContextID, Cleared: n}
	return jsonResult(output), output, nil
}

// summarize orders sessions by start time, then id.
func summarize(sessions map[string]*capture.Session) []SessionSummary {
	ordered := make([]*capture.Session, 0, len(sessions))
	for _, session := range sessions {
		ordered = append(ordered, session)
	}
	slices.SortFunc(ordered, func(a, b *capture.Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	out := make([]SessionSummary, 0, len(ordered))
	for _, session := range ordered {
		out = append(out, SessionSummary{
			ID:         session.ID,
			URL:        session.URL,
			Method:     session.Method,
			ContextID:  session.ContextID,
			StartedAt:  session.StartedAt.Format(time.RFC3339Nano),
			EventCount: len(session.Events),
		})
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
