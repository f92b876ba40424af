// Package protocol defines the messages exchanged between the places traffic is
// observed (page contexts, the capture proxy, the tap client) and the
// aggregator, and between the aggregator and its observers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/sseview/pkg/capture"
)

// ErrInvalidMessage is returned for messages that cannot be delivered.
var ErrInvalidMessage = errors.New("invalid message")

// MessageType discriminates the Message union.
type MessageType string

const (
	// TypeSessionStart is sent once per qualifying request or connection.
	TypeSessionStart MessageType = "SESSION_START"

	// TypeEventReceived is sent once per reconstructed event.
	TypeEventReceived MessageType = "EVENT_RECEIVED"

	// TypeContentScriptLoaded is a liveness signal from a page context.
	TypeContentScriptLoaded MessageType = "CONTENT_SCRIPT_LOADED"
)

// Message is a cross-context message. Which fields are meaningful depends on
// Type.
type Message struct {
	Type MessageType `json:"type"`

	// RequestID names the capture session. For SESSION_START it may be empty,
	// in which case the aggregator generates one.
	RequestID string `json:"requestId,omitempty"`

	// SESSION_START and CONTENT_SCRIPT_LOADED
	URL string `json:"url,omitempty"`

	// SESSION_START
	Method      string             `json:"method,omitempty"`
	QueryParams map[string]string  `json:"queryParams,omitempty"`
	BodyParams  capture.BodyParams `json:"bodyParams,omitzero"`

	// EVENT_RECEIVED
	ID         string    `json:"id,omitempty"`
	EventName  string    `json:"eventName,omitempty"`
	Data       string    `json:"data,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitzero"`
}

// SessionStart builds a SESSION_START message.
func SessionStart(requestID, url, method string, query map[string]string, body capture.BodyParams) Message {
	return Message{
		Type:        TypeSessionStart,
		RequestID:   requestID,
		URL:         url,
		Method:      method,
		QueryParams: query,
		BodyParams:  body,
	}
}

// EventReceived builds an EVENT_RECEIVED message.
func EventReceived(requestID string, ev capture.StreamEvent) Message {
	return Message{
		Type:       TypeEventReceived,
		RequestID:  requestID,
		ID:         ev.ID,
		EventName:  ev.EventName,
		Data:       ev.Data,
		ReceivedAt: ev.ReceivedAt,
	}
}

// ContentScriptLoaded builds a CONTENT_SCRIPT_LOADED message.
func ContentScriptLoaded(url string) Message {
	return Message{Type: TypeContentScriptLoaded, URL: url}
}

// StreamEvent returns the event carried by an EVENT_RECEIVED message. A zero
// ReceivedAt is replaced with now.
func (m Message) StreamEvent(now time.Time) capture.StreamEvent {
	received := m.ReceivedAt
	if received.IsZero() {
		received = now
	}
	return capture.StreamEvent{
		ID:         m.ID,
		EventName:  m.EventName,
		Data:       m.Data,
		ReceivedAt: received,
	}
}

// Registration returns the registry request carried by a SESSION_START
// message.
func (m Message) Registration(contextID string) capture.Registration {
	return capture.Registration{
		ID:          m.RequestID,
		URL:         m.URL,
		Method:      m.Method,
		ContextID:   contextID,
		QueryParams: m.QueryParams,
		BodyParams:  m.BodyParams,
	}
}

// Validate checks that the fields Type requires are present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSessionStart:
		if m.URL == "" {
			return fmt.Errorf("%w: %s requires url", ErrInvalidMessage, m.Type)
		}
	case TypeEventReceived:
		if m.RequestID == "" {
			return fmt.Errorf("%w: %s requires requestId", ErrInvalidMessage, m.Type)
		}
	case TypeContentScriptLoaded:
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// DecodeMessage parses and validates a JSON message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
