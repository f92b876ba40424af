// Package intercept observes SSE traffic on the client side of a connection.
// Transport decorates an http.RoundTripper, EventSource is a streaming
// connection client, and both forward what they observe to a Relay as
// cross-context messages.
package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/sseview/pkg/protocol"
)

// DefaultContextID is used when a request carries no browsing context.
const DefaultContextID = "default"

// Relay receives cross-context messages. Implemented by the in-process
// aggregator and by HTTPRelay.
type Relay interface {
	Deliver(ctx context.Context, contextID string, msg protocol.Message) error
}

type contextIDKey struct{}

// WithContextID attaches the owning browsing context to ctx.
func WithContextID(ctx context.Context, contextID string) context.Context {
	return context.WithValue(ctx, contextIDKey{}, contextID)
}

// ContextIDFrom returns the browsing context attached to ctx, or
// DefaultContextID.
func ContextIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextIDKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultContextID
}

// HTTPRelay delivers messages to a remote sseview API server.
type HTTPRelay struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRelay creates a relay posting to the API server at baseURL. A nil
// client gets a 10 second timeout.
func NewHTTPRelay(baseURL string, client *http.Client) *HTTPRelay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRelay{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Deliver posts msg to /v1/contexts/{contextID}/messages.
func (r *HTTPRelay) Deliver(ctx context.Context, contextID string, msg protocol.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	target := r.baseURL + "/v1/contexts/" + url.PathEscape(contextID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to sseview API at %s: %w", r.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay request failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
