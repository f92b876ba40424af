package aggregator

import (
	"context"
	"errors"

	"github.com/papercomputeco/sseview/pkg/protocol"
)

// Observer receives notifications for one browsing context, or for every
// context when subscribed to WildcardContext.
type Observer struct {
	contextID string
	send      chan protocol.Notification
}

// ContextID returns the browsing context the observer is subscribed to.
func (o *Observer) ContextID() string {
	return o.contextID
}

// Notifications is closed when the observer is unsubscribed or the aggregator
// closes.
func (o *Observer) Notifications() <-chan protocol.Notification {
	return o.send
}

func (o *Observer) wants(contextID string) bool {
	return o.contextID == WildcardContext || o.contextID == contextID
}

// Subscribe registers an observer for contextID. If ctx ends before the loop
// confirms, the registration is undone in the background.
func (a *Aggregator) Subscribe(ctx context.Context, contextID string) (*Observer, error) {
	o := &Observer{
		contextID: contextID,
		send:      make(chan protocol.Notification, a.buffer),
	}

	err := a.do(ctx, func() {
		a.observers[o] = struct{}{}
		a.logger.Debug("observer subscribed", "context", contextID, "observers", len(a.observers))
	})
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			go func() {
				_ = a.Unsubscribe(context.WithoutCancel(ctx), o)
			}()
		}
		return nil, err
	}
	return o, nil
}

// Unsubscribe removes an observer and closes its channel. Unsubscribing twice,
// or after Close, is a no-op.
func (a *Aggregator) Unsubscribe(ctx context.Context, o *Observer) error {
	err := a.do(ctx, func() {
		if _, ok := a.observers[o]; ok {
			delete(a.observers, o)
			close(o.send)
			a.logger.Debug("observer unsubscribed", "context", o.contextID, "observers", len(a.observers))
		}
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// broadcast runs on the loop. An observer whose buffer is full misses the
// notification.
func (a *Aggregator) broadcast(n protocol.Notification) {
	for o := range a.observers {
		if !o.wants(n.ContextID) {
			continue
		}

		select {
		case o.send <- n:
		default:
			a.logger.Warn("observer buffer full, notification dropped",
				"context", o.contextID,
				"action", n.Action,
				"session", n.SessionID,
			)
		}
	}
}
