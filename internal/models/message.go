package models

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable turn of a conversation.
type Message struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps a turn with the current time when ts is zero.
func NewMessage(sessionID string, role Role, content string, ts time.Time) Message {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Message{SessionID: sessionID, Role: role, Content: content, CreatedAt: ts}
}
