// Package llm defines the message model shared by every joingraph node and
// the reasoning capability nodes call to decide what to do next.
//
// A Client is a raw completion API (Anthropic, a mock). A Reasoner is what
// nodes actually call: it takes a conversation and returns whatever the
// backend produced, which Normalize turns into a canonical Message.
package llm

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation. Messages are immutable once
// appended to state; build a new one instead of editing.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name optionally identifies the author (assistant name or tool name).
	Name string `json:"name,omitempty"`

	// ToolCalls are pending capability requests on an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a tool result produced by a failed call.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Key returns the message ID. It is the dedup key for message fields.
func Key(m Message) string {
	return m.ID
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// User builds a user message.
func User(content string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: content}
}

// System builds a system message.
func System(content string) Message {
	return Message{ID: NewID(), Role: RoleSystem, Content: content}
}

// ToolResult builds the result message answering call.
func ToolResult(call ToolCall, content string, isError bool) Message {
	return Message{
		ID:         NewID(),
		Role:       RoleTool,
		Content:    content,
		Name:       call.Name,
		ToolCallID: call.ID,
		IsError:    isError,
	}
}

// Last returns the final message of msgs, if any.
func Last(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}
