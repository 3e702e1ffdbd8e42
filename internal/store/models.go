package store

import "time"

// Role tags a turn in a session's history.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is a tool invocation requested by the reasoning engine.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one entry of a session's ordered history.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is one durable conversation thread.
type Session struct {
	ID                   string
	Turns                []Turn
	EntityRef            string
	LastExecutor         string
	AwaitingConfirmation bool
	PendingAction        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
