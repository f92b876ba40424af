// Package capture holds the data model for observed SSE traffic: capture
// sessions, the events reconstructed on them, the parameters extracted from the
// originating request, and the Registry that owns them.
package capture

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/sseview/pkg/sse"
)

// DefaultMethod is assumed for registrations that do not name a method, such as
// an EventSource connection.
const DefaultMethod = "GET"

// StreamEvent is one reconstructed SSE record on a capture session.
type StreamEvent struct {
	// ID is the value of the last "id:" field of the record.
	ID string `json:"id"`

	// EventName is the "event:" field. Empty means "message".
	EventName string `json:"eventName"`

	// Data holds every "data:" line of the record joined with "\n".
	Data string `json:"data"`

	// ReceivedAt is capture-side wall clock time, never read from the wire.
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewStreamEvent converts a parsed record into a StreamEvent. A zero
// ReceivedAt on the record is replaced with now.
func NewStreamEvent(ev sse.Event, now time.Time) StreamEvent {
	received := ev.ReceivedAt
	if received.IsZero() {
		received = now
	}
	return StreamEvent{
		ID:         ev.ID,
		EventName:  ev.Type,
		Data:       ev.Data,
		ReceivedAt: received,
	}
}

// Matches reports whether the event's data, name or id contains filter,
// ignoring case and surrounding space. An empty filter matches everything.
func (ev StreamEvent) Matches(filter string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(ev.Data), filter) ||
		strings.Contains(strings.ToLower(ev.EventName), filter) ||
		strings.Contains(strings.ToLower(ev.ID), filter)
}

// Session is one observed request or streaming connection.
type Session struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	ContextID   string            `json:"contextId"`
	StartedAt   time.Time         `json:"startedAt"`
	QueryParams map[string]string `json:"queryParams"`
	BodyParams  BodyParams        `json:"bodyParams"`

	// Events is append-only; order is arrival order.
	Events []StreamEvent `json:"events"`
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	c := *s
	c.QueryParams = maps.Clone(s.QueryParams)
	c.BodyParams = s.BodyParams.Clone()
	c.Events = slices.Clone(s.Events)
	if c.Events == nil {
		c.Events = []StreamEvent{}
	}
	return &c
}

// MatchingEvents returns the positions in s.Events of the events that match
// filter. When the session URL itself contains filter every event matches.
func (s *Session) MatchingEvents(filter string) []int {
	needle := strings.ToLower(strings.TrimSpace(filter))
	urlMatch := needle == "" || strings.Contains(strings.ToLower(s.URL), needle)

	out := []int{}
	for i, ev := range s.Events {
		if urlMatch || ev.Matches(needle) {
			out = append(out, i)
		}
	}
	return out
}

// FilterEvents returns the events of s that match filter, in order.
func (s *Session) FilterEvents(filter string) []StreamEvent {
	idx := s.MatchingEvents(filter)
	out := make([]StreamEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Events[i])
	}
	return out
}
