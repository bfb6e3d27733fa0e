package chat

import "time"

// State is a node of the call lifecycle graph.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateListening    State = "listening"
	StateError        State = "error"
)

// Session captures one widget conversation and its call lifecycle.
type Session struct {
	ID            string     `json:"id"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	LastErrorKind string     `json:"lastErrorKind,omitempty"`
}
