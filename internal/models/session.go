package models

import "time"

// SessionState tracks the lifecycle of a client delivery link.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the server-side view of a client conversation. The id is
// always supplied by the client.
type Session struct {
	ID        string       `json:"id"`
	State     SessionState `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// DefaultSessionID is used when an inbound chat envelope carries no id.
const DefaultSessionID = "default-session"
