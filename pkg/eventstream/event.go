// Package eventstream fans captured SSE traffic out to external event stream
// backends. Payloads are transport neutral; see the nop and kafka packages for
// publishers.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/sseview/pkg/capture"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeSessionStarted is emitted after a capture session is registered.
	EventTypeSessionStarted = "sseview.session.started"

	// EventTypeEventReceived is emitted after an event is appended to a session.
	EventTypeEventReceived = "sseview.event.received"
)

// CaptureEvent is a transport-neutral payload for one registry mutation.
type CaptureEvent struct {
	SchemaVersion int                  `json:"schema_version"`
	EventType     string               `json:"event_type"`
	EventID       string               `json:"event_id"`
	EmittedAt     time.Time            `json:"emitted_at"`
	Source        EventSource          `json:"source"`
	SessionID     string               `json:"session_id"`
	Session       *SessionMeta         `json:"session,omitempty"`
	Event         *capture.StreamEvent `json:"event,omitempty"`
}

// EventSource identifies where the captured traffic was observed.
type EventSource struct {
	ContextID string `json:"context_id"`
	Host      string `json:"host,omitempty"`
}

// SessionMeta describes the request that opened a session.
type SessionMeta struct {
	URL         string             `json:"url"`
	Method      string             `json:"method"`
	StartedAt   time.Time          `json:"started_at"`
	QueryParams map[string]string  `json:"query_params,omitempty"`
	BodyParams  capture.BodyParams `json:"body_params,omitzero"`
}

// NewSessionStarted builds the event for a newly registered session.
func NewSessionStarted(source EventSource, s *capture.Session, now time.Time) *CaptureEvent {
	return &CaptureEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeSessionStarted,
		EventID:       uuid.NewString(),
		EmittedAt:     now,
		Source:        source,
		SessionID:     s.ID,
		Session: &SessionMeta{
			URL:         s.URL,
			Method:      s.Method,
			StartedAt:   s.StartedAt,
			QueryParams: s.QueryParams,
			BodyParams:  s.BodyParams,
		},
	}
}

// NewEventReceived builds the event for a stream event appended to a session.
func NewEventReceived(source EventSource, sessionID string, ev capture.StreamEvent, now time.Time) *CaptureEvent {
	return &CaptureEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeEventReceived,
		EventID:       uuid.NewString(),
		EmittedAt:     now,
		Source:        source,
		SessionID:     sessionID,
		Event:         &ev,
	}
}
