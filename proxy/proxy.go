// Package proxy provides a transparent HTTP proxy that captures the
// server-sent event streams passing through it.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/papercomputeco/sseview/pkg/intercept"
	"github.com/papercomputeco/sseview/proxy/header"
)

// Proxy forwards every request to the upstream origin. Responses that are
// event streams are streamed back verbatim while an intercept.Transport
// relays their sessions and events to the aggregator.
type Proxy struct {
	config        Config
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
}

// New creates a new Proxy relaying captured traffic to relay.
func New(config Config, relay intercept.Relay, logger *slog.Logger) (*Proxy, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if relay == nil {
		return nil, errors.New("relay is required")
	}
	if config.DefaultContextID == "" {
		config.DefaultContextID = intercept.DefaultContextID
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config.UpstreamURL = strings.TrimRight(config.UpstreamURL, "/")

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	// Compress everything except event streams, where the compressor would
	// hold back events until its buffer fills.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return intercept.IsEventStream(c.Get(fiber.HeaderAccept))
		},
	}))

	p := &Proxy{
		config:        config,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		httpClient: &http.Client{
			// No overall timeout: event streams stay open indefinitely.
			Transport: &intercept.Transport{
				Base:         http.DefaultTransport,
				Relay:        relay,
				MaxBodyBytes: config.MaxBodyBytes,
				Logger:       logger,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}

	// Register transparent proxy route - forwards any path to upstream
	app.All("/*", p.handleProxy)

	return p, nil
}

// Run starts the proxy server on the given listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
	)

	return p.server.Listener(listener)
}

// Close gracefully shuts down the proxy.
func (p *Proxy) Close() error {
	return p.server.Shutdown()
}

// handleProxy forwards one request to upstream. Event stream responses are
// piped to the client as they arrive; everything else is buffered.
func (p *Proxy) handleProxy(c *fiber.Ctx) error {
	startTime := time.Now()

	contextID := header.ContextID(c)
	if contextID == "" {
		contextID = p.config.DefaultContextID
	}

	upstreamURL := p.config.UpstreamURL + c.OriginalURL()
	method := c.Method()

	// fasthttp reuses the request buffer once the handler returns.
	var reqBody io.Reader
	if body := c.Body(); len(body) > 0 {
		reqBody = bytes.NewReader(bytes.Clone(body))
	}

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, but an event stream is piped
	// from a separate goroutine and needs the upstream connection to remain
	// open.
	ctx, cancel := context.WithCancel(intercept.WithContextID(context.Background(), contextID))

	httpReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, reqBody)
	if err != nil {
		cancel()
		p.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	p.logger.Debug("forwarding request to upstream",
		"method", method,
		"url", upstreamURL,
		"context", contextID,
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		p.logger.Error("upstream request failed", "url", upstreamURL, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream request failed"})
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)
	c.Status(httpResp.StatusCode)

	if !intercept.IsEventStream(httpResp.Header.Get("Content-Type")) {
		defer cancel()
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			p.logger.Error("failed to read upstream response", "url", upstreamURL, "error", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to read upstream response"})
		}
		return c.Send(respBody)
	}

	// Use io.Pipe + SetBodyStream instead of SetBodyStreamWriter.
	// SetBodyStreamWriter uses an internal PipeConns with a buffered channel
	// (capacity 4) and two bufio.Writers, which means Flush() in the callback
	// only pushes data into the pipe, NOT to the TCP socket. Events would sit
	// in memory until enough of them accumulate.
	//
	// With io.Pipe, pw.Write blocks until the reader consumes the data, and
	// the reader is fasthttp's writeBodyChunked which flushes to TCP after
	// every chunk.
	pr, pw := io.Pipe()
	go p.pipeEventStream(httpResp, pw, cancel, upstreamURL, startTime)

	// Set the pipe reader as the body stream with unknown size (-1),
	// which triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// pipeEventStream copies the upstream event stream to the client. Reading
// the body through the intercept transport is what captures it.
func (p *Proxy) pipeEventStream(httpResp *http.Response, pw *io.PipeWriter, cancel context.CancelFunc, upstreamURL string, startTime time.Time) {
	defer cancel()
	defer httpResp.Body.Close()

	n, err := io.Copy(pw, httpResp.Body)
	if err != nil {
		// A closed pipe means the client went away; closing the body then
		// abandons the capture without a trailing event.
		if errors.Is(err, io.ErrClosedPipe) {
			p.logger.Debug("client closed event stream", "url", upstreamURL)
		} else {
			p.logger.Error("error proxying event stream", "url", upstreamURL, "error", err)
		}
		pw.CloseWithError(err)
		return
	}

	p.logger.Debug("event stream complete",
		"url", upstreamURL,
		"bytes", n,
		"duration", time.Since(startTime),
	)
	pw.Close()
}
