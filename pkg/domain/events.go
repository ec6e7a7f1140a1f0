package domain

import "time"

// EventType defines the category of a session event.
type EventType string

const (
	EventMessage       EventType = "message"
	EventPatchProposed EventType = "patch_proposed"
	EventPatchAction   EventType = "patch_action"
)

// Role identifies who authored a message event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionEvent is one entry of the append-only agent session log.
type SessionEvent struct {
	Seq       int        `json:"seq"`
	Type      EventType  `json:"type"`
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	PatchID   string     `json:"patchId,omitempty"`
	Action    PatchState `json:"action,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// AgentSession is one conversational run against one canvas.
type AgentSession struct {
	ID        string         `json:"id"`
	CanvasID  string         `json:"canvasId"`
	Events    []SessionEvent `json:"events"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a copy of s with its own event slice.
func (s *AgentSession) Clone() *AgentSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Events = append([]SessionEvent(nil), s.Events...)
	return &out
}
