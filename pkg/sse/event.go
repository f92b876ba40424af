// Package sse provides a restartable Server-Sent Events frame parser and a
// stream consumer that drives it over chunked byte streams.
//
// The parser works on an explicit text buffer rather than an io.Reader so that
// callers can feed it whatever arrives from the network, in whatever chunk sizes,
// and carry the unconsumed remainder forward between calls.
//
// Only the "id", "event" and "data" fields are interpreted. This package
// intentionally does NOT provide SSE writer or server capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import "time"

// DefaultEventType is the event type consumers should assume when an event
// carries no "event:" field.
const DefaultEventType = "message"

// Event represents a single reconstructed SSE record, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// ID is the last event ID from the "id:" field, if present.
	ID string

	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string

	// ReceivedAt is stamped by the Consumer when the record is emitted. Parse
	// leaves it zero.
	ReceivedAt time.Time
}

// TypeOrDefault returns the event type, or DefaultEventType when none was set.
func (e Event) TypeOrDefault() string {
	if e.Type == "" {
		return DefaultEventType
	}
	return e.Type
}
