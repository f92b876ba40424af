// Package aggregator is the long-lived owner of captured SSE traffic. A single
// goroutine owns the capture.Registry; cross-context messages, observer
// queries and (un)subscriptions are all marshaled onto that goroutine through
// an inbox channel, so the registry itself needs no locking.
//
//	page contexts, proxy, tap               observers (panel, watch)
//	          │ Deliver                              ▲ notifications
//	          ▼                                      │
//	    ┌───────────┐     ┌──────────────────┐     ┌─┴─────────┐
//	    │   inbox   │────▶│ loop + Registry  │────▶│ observers │
//	    └───────────┘     └────────┬─────────┘     └───────────┘
//	                               │ capture events
//	                               ▼
//	                  worker.Pool ──▶ eventstream.Publisher
package aggregator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/sseview/pkg/capture"
	"github.com/papercomputeco/sseview/pkg/eventstream"
	"github.com/papercomputeco/sseview/pkg/protocol"
	"github.com/papercomputeco/sseview/proxy/worker"
)

// WildcardContext subscribes to, lists or clears every browsing context.
const WildcardContext = "*"

var (
	defaultInboxSize      uint = 1024
	defaultObserverBuffer uint = 256
)

// ErrClosed is returned once the aggregator has been closed.
var ErrClosed = errors.New("aggregator closed")

// Config is the configuration options for the aggregator.
type Config struct {
	// Registry is owned by the aggregator loop from here on. Defaults to an
	// empty registry.
	Registry *capture.Registry

	// Pool fans capture events out to the event stream. Optional.
	Pool *worker.Pool

	// Host identifies this process in published capture events.
	Host string

	// InboxSize is the capacity of the command channel (defaults to 1024).
	InboxSize uint

	// ObserverBuffer is the capacity of each observer's notification channel
	// (defaults to 256). A full buffer drops notifications for that observer.
	ObserverBuffer uint

	// Clock stamps events that arrive without a receive time.
	Clock func() time.Time

	Logger *slog.Logger
}

// LoadedContext records a CONTENT_SCRIPT_LOADED signal.
type LoadedContext struct {
	ContextID string    `json:"contextId"`
	URL       string    `json:"url"`
	LoadedAt  time.Time `json:"loadedAt"`
}

// Aggregator serializes every registry mutation and query through one loop.
type Aggregator struct {
	registry *capture.Registry
	pool     *worker.Pool
	host     string
	buffer   uint
	now      func() time.Time
	logger   *slog.Logger

	inbox    chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// loop-owned
	observers map[*Observer]struct{}
	loaded    map[string]LoadedContext
}

// New creates an Aggregator and starts its loop.
func New(c Config) *Aggregator {
	if c.Registry == nil {
		c.Registry = capture.NewRegistry(capture.WithLogger(c.Logger))
	}
	if c.InboxSize == 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.ObserverBuffer == 0 {
		c.ObserverBuffer = defaultObserverBuffer
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	a := &Aggregator{
		registry:  c.Registry,
		pool:      c.Pool,
		host:      c.Host,
		buffer:    c.ObserverBuffer,
		now:       c.Clock,
		logger:    c.Logger,
		inbox:     make(chan func(), c.InboxSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		observers: make(map[*Observer]struct{}),
		loaded:    make(map[string]LoadedContext),
	}

	go a.run()
	return a
}

// Deliver applies one cross-context message from the given browsing context.
// It returns once the loop has processed it.
//
// Events for unknown sessions are dropped without error. A SESSION_START that
// the registry judges a duplicate returns capture.ErrDuplicateSession.
func (a *Aggregator) Deliver(ctx context.Context, contextID string, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var err error
	if doErr := a.do(ctx, func() {
		err = a.apply(contextID, msg)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Sessions returns a snapshot of the sessions owned by contextID, or of every
// session for WildcardContext.
func (a *Aggregator) Sessions(ctx context.Context, contextID string) (map[string]*capture.Session, error) {
	var out map[string]*capture.Session
	if err := a.do(ctx, func() {
		out = a.list(contextID)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Session returns a snapshot of one session.
func (a *Aggregator) Session(ctx context.Context, sessionID string) (*capture.Session, error) {
	var (
		out    *capture.Session
		getErr error
	)
	if err := a.do(ctx, func() {
		out, getErr = a.registry.Get(sessionID)
	}); err != nil {
		return nil, err
	}
	return out, getErr
}

// Clear removes the sessions owned by contextID, or every session for
// WildcardContext, and returns how many were removed.
func (a *Aggregator) Clear(ctx context.Context, contextID string) (int, error) {
	var n int
	if err := a.do(ctx, func() {
		n = a.clear(contextID)
	}); err != nil {
		return 0, err
	}
	return n, nil
}

// Handle answers an observer query for contextID.
func (a *Aggregator) Handle(ctx context.Context, contextID string, req protocol.Request) (protocol.Notification, error) {
	if err := req.Validate(); err != nil {
		return protocol.Notification{}, err
	}

	var resp protocol.Notification
	if err := a.do(ctx, func() {
		switch req.Action {
		case protocol.ActionGetSessions:
			resp = protocol.AllSessions(contextID, a.list(contextID))
		case protocol.ActionClearSessions:
			a.clear(contextID)
			resp = protocol.AllSessions(contextID, nil)
		}
	}); err != nil {
		return protocol.Notification{}, err
	}
	return resp, nil
}

// LoadedContexts returns the browsing contexts that reported
// CONTENT_SCRIPT_LOADED, ordered by id.
func (a *Aggregator) LoadedContexts(ctx context.Context) ([]LoadedContext, error) {
	var out []LoadedContext
	if err := a.do(ctx, func() {
		out = make([]LoadedContext, 0, len(a.loaded))
		for _, lc := range a.loaded {
			out = append(out, lc)
		}
		slices.SortFunc(out, func(x, y LoadedContext) int {
			return cmp.Compare(x.ContextID, y.ContextID)
		})
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the loop and closes every observer channel. Commands still
// queued are abandoned and their callers get ErrClosed. Close is idempotent.
func (a *Aggregator) Close() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
}

func (a *Aggregator) run() {
	defer close(a.done)

	a.logger.Debug("aggregator loop started")
	for {
		select {
		case <-a.stop:
			for o := range a.observers {
				close(o.send)
				delete(a.observers, o)
			}
			a.logger.Debug("aggregator loop stopped")
			return

		case cmd := <-a.inbox:
			a.exec(cmd)
		}
	}
}

// exec runs one command, converting a panic into a log line so the loop
// survives.
func (a *Aggregator) exec(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("aggregator command panicked", "panic", fmt.Sprint(r))
		}
	}()
	cmd()
}

// do runs fn on the loop and waits for it to finish. When it returns an error
// fn may still run later, so callers must not read what fn writes.
func (a *Aggregator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case <-a.stop:
		return ErrClosed
	default:
	}

	select {
	case a.inbox <- cmd:
	case <-a.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply runs on the loop.
func (a *Aggregator) apply(contextID string, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeSessionStart:
		id, err := a.registry.Register(msg.Registration(contextID))
		if err != nil {
			a.logger.Debug("session start rejected",
				"context", contextID,
				"url", msg.URL,
				"error", err,
			)
			return err
		}

		session, err := a.registry.Get(id)
		if err != nil {
			return err
		}

		a.broadcast(protocol.NewSession(contextID, session))
		a.publish(eventstream.NewSessionStarted(a.source(contextID), session, a.now()))

	case protocol.TypeEventReceived:
		owner, ok := a.registry.ContextOf(msg.RequestID)
		if !ok {
			a.logger.Debug("event for unknown session dropped",
				"context", contextID,
				"session", msg.RequestID,
			)
			return nil
		}

		ev := msg.StreamEvent(a.now())
		a.registry.AppendEvent(msg.RequestID, ev)

		a.broadcast(protocol.NewEvent(owner, msg.RequestID, ev))
		a.publish(eventstream.NewEventReceived(a.source(owner), msg.RequestID, ev, a.now()))

	case protocol.TypeContentScriptLoaded:
		a.loaded[contextID] = LoadedContext{
			ContextID: contextID,
			URL:       msg.URL,
			LoadedAt:  a.now(),
		}
		a.logger.Debug("content script loaded", "context", contextID, "url", msg.URL)
	}
	return nil
}

func (a *Aggregator) list(contextID string) map[string]*capture.Session {
	if contextID != WildcardContext {
		return a.registry.ListFor(contextID)
	}

	out := make(map[string]*capture.Session)
	for _, c := range a.registry.Contexts() {
		for id, s := range a.registry.ListFor(c) {
			out[id] = s
		}
	}
	return out
}

func (a *Aggregator) clear(contextID string) int {
	if contextID != WildcardContext {
		return a.registry.Clear(contextID)
	}

	n := 0
	for _, c := range a.registry.Contexts() {
		n += a.registry.Clear(c)
	}
	return n
}

func (a *Aggregator) source(contextID string) eventstream.EventSource {
	return eventstream.EventSource{ContextID: contextID, Host: a.host}
}

func (a *Aggregator) publish(ev *eventstream.CaptureEvent) {
	if a.pool == nil {
		return
	}
	a.pool.Enqueue(worker.Job{Event: ev})
}
