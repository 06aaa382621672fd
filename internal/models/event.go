package models

import "time"

const (
	EventConnected = "connected"
	EventMessage   = "message"
)

// Event is pushed to a client over its delivery stream.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RelayPayload is the body of a relayed answer as seen by the browser.
type RelayPayload struct {
	Text        string `json:"text"`
	MessageType string `json:"messageType,omitempty"`
}
