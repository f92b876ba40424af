package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/protocol"
	"github.com/papercomputeco/sseview/pkg/sse"
)

const defaultEventBuffer = 64

// ErrNotEventStream is reported by an EventSource whose response is not an
// event stream.
var ErrNotEventStream = errors.New("response is not an event stream")

// Options configures an EventSource.
type Options struct {
	// URL is the event stream endpoint. Required.
	URL string

	// ContextID is the owning browsing context. Defaults to DefaultContextID.
	ContextID string

	// Relay receives SESSION_START and EVENT_RECEIVED messages. Optional.
	Relay Relay

	// Client performs the request. It should not carry an overall timeout.
	// Defaults to a client without one.
	Client *http.Client

	// Header is added to the request.
	Header http.Header

	// Buffer is the capacity of the Events channel (defaults to 64).
	Buffer int

	Logger *slog.Logger
}

// EventSource is a streaming connection to an SSE endpoint. It is registered
// as a capture session as soon as it is opened, regardless of how the server
// responds. There is no automatic reconnection.
type EventSource struct {
	id        string
	url       string
	contextID string
	relay     Relay
	client    *http.Client
	logger    *slog.Logger

	events chan capture.StreamEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Open registers a capture session for o.URL and starts streaming it in the
// background. Events are delivered on Events until the stream ends or Close is
// called. Callers must drain Events; a full channel holds up the stream.
func Open(ctx context.Context, o Options) (*EventSource, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid event source URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid event source URL %q: scheme must be http or https", o.URL)
	}

	if o.ContextID == "" {
		o.ContextID = DefaultContextID
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(ctx)
	es := &EventSource{
		id:        capture.NewSessionID(),
		url:       u.String(),
		contextID: o.ContextID,
		relay:     o.Relay,
		client:    o.Client,
		events:    make(chan capture.StreamEvent, o.Buffer),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	es.logger = o.Logger.With("session", es.id, "context", es.contextID)

	es.deliver(ctx, protocol.SessionStart(
		es.id,
		es.url,
		http.MethodGet,
		capture.ExtractQueryParams(es.url),
		capture.BodyParams{},
	))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, es.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating event source request: %w", err)
	}
	for key, values := range o.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", EventStreamMediaType)
	req.Header.Set("Cache-Control", "no-cache")

	go es.run(ctx, req)
	return es, nil
}

// ID returns the capture session id of the connection.
func (es *EventSource) ID() string {
	return es.id
}

// Events delivers every reconstructed event. Events without an event name are
// reported as "message". The channel is closed when the stream ends.
func (es *EventSource) Events() <-chan capture.StreamEvent {
	return es.events
}

// Err returns why the connection failed before streaming began. It is nil for
// a stream that was established; read errors mid-stream are logged instead.
func (es *EventSource) Err() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.err
}

// Close cancels the connection and waits for the stream goroutine to exit.
func (es *EventSource) Close() error {
	es.cancel()
	<-es.done
	return nil
}

func (es *EventSource) run(ctx context.Context, req *http.Request) {
	defer close(es.done)
	defer close(es.events)

	resp, err := es.client.Do(req)
	if err != nil {
		es.fail(ctx, fmt.Errorf("connecting to event source: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		es.fail(ctx, fmt.Errorf("event source returned status %d", resp.StatusCode))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsEventStream(contentType) {
		es.fail(ctx, fmt.Errorf("%w: %s", ErrNotEventStream, contentType))
		return
	}

	relayCtx := context.WithoutCancel(ctx)
	consumer := sse.NewConsumer(
		func(ev sse.Event) {
			se := capture.NewStreamEvent(ev, time.Now())
			if se.EventName == "" {
				se.EventName = sse.DefaultEventType
			}
			es.deliver(relayCtx, protocol.EventReceived(es.id, se))

			select {
			case es.events <- se:
			case <-ctx.Done():
			}
		},
		sse.WithDecoder(sse.NewDecoderForContentType(contentType)),
		sse.WithLogger(es.logger),
	)

	consumer.Consume(resp.Body)
	es.logger.Debug("event source stream ended", "events", consumer.Emitted())
}

// fail records err unless the connection was closed on purpose.
func (es *EventSource) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	es.logger.Warn("event source failed", "url", es.url, "error", err)

	es.mu.Lock()
	es.err = err
	es.mu.Unlock()
}

func (es *EventSource) deliver(ctx context.Context, msg protocol.Message) {
	if es.relay == nil {
		return
	}
	if err := es.relay.Deliver(ctx, es.contextID, msg); err != nil {
		es.logger.Warn("failed to relay captured message", "type", msg.Type, "error", err)
	}
}
