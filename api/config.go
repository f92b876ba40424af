// Package api provides the aggregator's HTTP API: cross-context message
// delivery, session queries, and the websocket observer channel.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// AllowedOrigins restricts which origins may open an observer websocket.
	// Empty allows any origin.
	AllowedOrigins []string

	// DisableMCP serves an MCP endpoint with no tools.
	DisableMCP bool
}
