package eventstream

import "context"

// Publisher publishes capture events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *CaptureEvent) error
	Close() error
}
