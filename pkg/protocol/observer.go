package protocol

import (
	"fmt"

	"github.com/papercomputeco/sseview/pkg/capture"
)

// Action discriminates observer requests and notifications.
type Action string

const (
	// ActionGetSessions asks for the full snapshot of a browsing context.
	ActionGetSessions Action = "getSSERequests"

	// ActionClearSessions clears a browsing context.
	ActionClearSessions Action = "clearSSERequests"

	// ActionAllSessions answers both requests above.
	ActionAllSessions Action = "allSSERequests"

	// ActionNewSession is pushed when a session is registered.
	ActionNewSession Action = "newSSERequest"

	// ActionNewEvent is pushed when an event is appended to a session.
	ActionNewEvent Action = "newSSEEvent"

	// ActionError reports a request the aggregator could not serve.
	ActionError Action = "error"
)

// Request is sent by an observer.
type Request struct {
	Action Action `json:"action"`
}

// Validate checks the request action.
func (r Request) Validate() error {
	switch r.Action {
	case ActionGetSessions, ActionClearSessions:
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, r.Action)
	}
}

// Notification is sent to observers, either in response to a Request or
// pushed on a registry mutation.
type Notification struct {
	Action Action `json:"action"`

	// ContextID is the browsing context the notification concerns.
	ContextID string `json:"contextId,omitempty"`

	// allSSERequests
	Sessions map[string]*capture.Session `json:"sessions,omitzero"`

	// newSSERequest and newSSEEvent
	SessionID string               `json:"sessionId,omitempty"`
	Session   *capture.Session     `json:"session,omitempty"`
	Event     *capture.StreamEvent `json:"event,omitempty"`

	Error string `json:"error,omitempty"`
}

// AllSessions answers a snapshot or clear request. A nil map is sent as {}.
func AllSessions(contextID string, sessions map[string]*capture.Session) Notification {
	if sessions == nil {
		sessions = map[string]*capture.Session{}
	}
	return Notification{Action: ActionAllSessions, ContextID: contextID, Sessions: sessions}
}

// NewSession announces a registered session.
func NewSession(contextID string, s *capture.Session) Notification {
	return Notification{Action: ActionNewSession, ContextID: contextID, SessionID: s.ID, Session: s}
}

// NewEvent announces an event appended to a session.
func NewEvent(contextID, sessionID string, ev capture.StreamEvent) Notification {
	return Notification{Action: ActionNewEvent, ContextID: contextID, SessionID: sessionID, Event: &ev}
}

// ErrorNotification reports a failed request.
func ErrorNotification(contextID string, err error) Notification {
	return Notification{Action: ActionError, ContextID: contextID, Error: err.Error()}
}
