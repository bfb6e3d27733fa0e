package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a session transcript.
// Ephemeral is true only for the transient "thinking" placeholder.
type Message struct {
	Sequence  int64     `json:"sequence"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Ephemeral bool      `json:"ephemeral,omitempty"`
}
