package proxy

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the upstream origin URL (e.g., "http://localhost:3000")
	UpstreamURL string

	// DefaultContextID owns requests that carry no context header.
	// Defaults to intercept.DefaultContextID.
	DefaultContextID string

	// MaxBodyBytes caps how much of each request body is inspected for body
	// params. Zero uses the interception default.
	MaxBodyBytes int64
}
