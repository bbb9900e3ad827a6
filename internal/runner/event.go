package runner

import "time"

// EventType is the vocabulary of execution events a backend may emit.
// Backends may emit other types; the engine forwards them without folding.
type EventType string

const (
	EventTypeUserMessage      EventType = "user_message"
	EventTypeAssistantMessage EventType = "assistant_message"
	EventTypeToolCallStart    EventType = "tool_call_start"
	EventTypeToolCallEnd      EventType = "tool_call_end"
	EventTypeToken            EventType = "token"
	EventTypeProgress         EventType = "progress"
	EventTypeError            EventType = "error"
	EventTypeSessionStart     EventType = "session_start"
	EventTypeSessionEnd       EventType = "session_end"
)

// ToolCallRef is an inline tool-call record carried by an assistant_message
// event. The assistant message is authoritative for final results, so these
// upsert by ID during folding.
type ToolCallRef struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Event is one normalized execution event from a backend stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// user_message / assistant_message / token
	Content string   `json:"content,omitempty"`
	Files   []string `json:"files,omitempty"`

	// assistant_message
	IsDelta   bool          `json:"isDelta,omitempty"`
	ToolCalls []ToolCallRef `json:"toolCalls,omitempty"`

	// tool_call_start / tool_call_end
	CallID  string         `json:"callId,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Success bool           `json:"success,omitempty"`
	Result  string         `json:"result,omitempty"`

	// progress / error
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// session_start / session_end
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Backend-specific passthrough (token usage, cost, raw payloads).
	Extra map[string]any `json:"extra,omitempty"`
}
