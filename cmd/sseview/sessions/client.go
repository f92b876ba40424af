package sessionscmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/papercomputeco/sseview/api"
	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/protocol"
)

// Client talks to the sseview API server.
type Client struct {
	target string
	http   *http.Client
}

// NewClient creates a Client for the API server at target. A nil httpClient
// uses http.DefaultClient.
func NewClient(target string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{target: strings.TrimRight(target, "/"), http: httpClient}
}

// ListSessions returns the sessions owned by contextID ("*" for every context).
func (c *Client) ListSessions(ctx context.Context, contextID string) (map[string]*capture.Session, error) {
	var n protocol.Notification
	if err := c.do(ctx, http.MethodGet, sessionsPath(contextID), &n); err != nil {
		return nil, err
	}
	return n.Sessions, nil
}

// GetSession returns one session. contextID restricts the lookup to one
// browsing context; "*" finds the session wherever it lives.
func (c *Client) GetSession(ctx context.Context, contextID, sessionID string) (*capture.Session, error) {
	var s capture.Session
	if err := c.do(ctx, http.MethodGet, sessionsPath(contextID)+"/"+url.PathEscape(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ClearSessions clears the sessions owned by contextID.
func (c *Client) ClearSessions(ctx context.Context, contextID string) error {
	return c.do(ctx, http.MethodDelete, sessionsPath(contextID), nil)
}

// LoadedContexts returns the browsing contexts that announced themselves.
func (c *Client) LoadedContexts(ctx context.Context) (*api.ContextsResponse, error) {
	var out api.ContextsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/contexts", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.target+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to sseview API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s failed (HTTP %d): %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s failed (HTTP %d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func sessionsPath(contextID string) string {
	return "/v1/contexts/" + url.PathEscape(contextID) + "/sessions"
}
