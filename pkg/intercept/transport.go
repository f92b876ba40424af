package intercept

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/protocol"
	"github.com/papercomputeco/sseview/pkg/sse"
)

// EventStreamMediaType is the media type that qualifies a response for capture.
const EventStreamMediaType = "text/event-stream"

const (
	defaultMaxBodyBytes   int64 = 1 << 20
	defaultRelayQueueSize       = 256
)

// IsEventStream reports whether a Content-Type header value names an event
// stream.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), EventStreamMediaType)
}

// Transport is an http.RoundTripper that delegates to Base and captures every
// response whose Content-Type is an event stream. For such a response it sends
// SESSION_START to Relay, then wraps the body so that every chunk the caller
// reads is also fed through an sse.Consumer, whose events are sent as
// EVENT_RECEIVED.
//
// Messages of one stream are queued and delivered in order by a background
// goroutine, so reading the body never waits on Relay. When the queue is full
// the message is dropped and logged.
//
// The response the caller sees is unmodified. Relay failures are logged and
// never surface to the caller. The owning browsing context is read from the
// request context, see WithContextID.
type Transport struct {
	// Base performs the actual request. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Relay receives the captured messages. Required.
	Relay Relay

	// MaxBodyBytes caps how much of a request body is inspected for body
	// params (defaults to 1 MiB). The full body is always forwarded.
	MaxBodyBytes int64

	// RelayQueueSize is how many captured messages of one stream may wait
	// for Relay (defaults to 256).
	RelayQueueSize int

	// NewID generates session ids. Defaults to capture.NewSessionID.
	NewID func() string

	// Clock stamps received events. Defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	contextID := ContextIDFrom(req.Context())

	head, body, err := t.peekBody(req)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	out := req
	if body != req.Body {
		out = req.Clone(req.Context())
		out.Body = body
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsEventStream(contentType) || resp.Body == nil {
		return resp, nil
	}

	sessionID := t.newID()
	logger := t.logger().With("session", sessionID, "context", contextID)
	queue := t.startRelay(context.WithoutCancel(req.Context()), contextID)

	queue.push(logger, protocol.SessionStart(
		sessionID,
		req.URL.String(),
		req.Method,
		capture.ExtractQueryParams(req.URL.String()),
		capture.ExtractBodyParams(head, req.Header.Get("Content-Type")),
	))

	consumer := sse.NewConsumer(
		func(ev sse.Event) {
			queue.push(logger, protocol.EventReceived(sessionID, capture.NewStreamEvent(ev, t.now())))
		},
		sse.WithDecoder(sse.NewDecoderForContentType(contentType)),
		sse.WithLogger(logger),
		sse.WithClock(t.now),
	)

	resp.Body = &captureBody{
		rc:       resp.Body,
		consumer: consumer,
		queue:    queue,
		logger:   logger,
	}
	return resp, nil
}

// peekBody reads up to MaxBodyBytes of the request body and returns it along
// with a replacement body that replays those bytes before the rest.
func (t *Transport) peekBody(req *http.Request) ([]byte, io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, req.Body, nil
	}

	limit := t.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	head, err := io.ReadAll(io.LimitReader(req.Body, limit))
	if err != nil {
		_ = req.Body.Close()
		return nil, nil, err
	}

	return head, &replayBody{
		Reader: io.MultiReader(bytes.NewReader(head), req.Body),
		closer: req.Body,
	}, nil
}

func (t *Transport) deliver(ctx context.Context, contextID string, msg protocol.Message) {
	if t.Relay == nil {
		return
	}
	if err := t.Relay.Deliver(ctx, contextID, msg); err != nil {
		t.logger().Warn("failed to relay captured message",
			"type", msg.Type,
			"session", msg.RequestID,
			"context", contextID,
			"error", err,
		)
	}
}

// startRelay starts the goroutine delivering one stream's messages in queue
// order. It exits once the queue is closed and drained.
func (t *Transport) startRelay(ctx context.Context, contextID string) *relayQueue {
	size := t.RelayQueueSize
	if size <= 0 {
		size = defaultRelayQueueSize
	}

	q := &relayQueue{ch: make(chan protocol.Message, size)}
	go func() {
		for msg := range q.ch {
			t.deliver(ctx, contextID, msg)
		}
	}()
	return q
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) newID() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return capture.NewSessionID()
}

func (t *Transport) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.New(slog.DiscardHandler)
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error {
	return b.closer.Close()
}

// relayQueue is the bounded hand-off between a captured stream and its relay
// goroutine.
type relayQueue struct {
	mu     sync.Mutex
	ch     chan protocol.Message
	closed bool
}

// push queues msg without blocking. Messages arriving after close, or while
// the queue is full, are dropped.
func (q *relayQueue) push(logger *slog.Logger, msg protocol.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	select {
	case q.ch <- msg:
	default:
		logger.Warn("relay queue full, captured message dropped", "type", msg.Type)
	}
}

// close stops accepting messages. Queued messages are still delivered.
func (q *relayQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// captureBody tees every chunk read by the caller into a consumer.
type captureBody struct {
	rc       io.ReadCloser
	consumer *sse.Consumer
	queue    *relayQueue
	logger   *slog.Logger
	once     sync.Once
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		// The consumer logs its own failures and stops accepting bytes; the
		// caller's read is unaffected either way.
		_, _ = b.consumer.Write(p[:n])
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		b.once.Do(func() {
			_ = b.consumer.Close()
			b.queue.close()
		})
	default:
		b.once.Do(func() {
			b.logger.Warn("error reading sse stream", "error", err)
			b.consumer.Abandon()
			b.queue.close()
		})
	}
	return n, err
}

// Close abandons a stream the caller stopped reading early. A trailing
// record that never saw its blank line is not emitted.
func (b *captureBody) Close() error {
	b.once.Do(func() {
		b.consumer.Abandon()
		b.queue.close()
	})
	return b.rc.Close()
}
