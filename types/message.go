package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one turn of a conversation. The concrete types are
// SystemMessage, UserMessage, AssistantMessage and ToolMessage; fields that
// only make sense for one role live only on that role's type.
type Message interface {
	Role() Role
	// Text returns the textual content of the turn (may be empty).
	Text() string

	message()
}

// SystemMessage carries instructions for the model.
type SystemMessage struct {
	Content string
}

// UserMessage carries end-user input.
type UserMessage struct {
	Content string
}

// AssistantMessage is a model turn. Content may be empty when ToolCalls is set.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCallRequest
}

// ToolMessage feeds one tool result back to the model.
type ToolMessage struct {
	ToolCallID string
	Name       string
	Content    string
}

func (SystemMessage) Role() Role    { return RoleSystem }
func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }
func (ToolMessage) Role() Role      { return RoleTool }

func (m SystemMessage) Text() string    { return m.Content }
func (m UserMessage) Text() string      { return m.Content }
func (m AssistantMessage) Text() string { return m.Content }
func (m ToolMessage) Text() string      { return m.Content }

func (SystemMessage) message()    {}
func (UserMessage) message()      {}
func (AssistantMessage) message() {}
func (ToolMessage) message()      {}

// HasToolCalls reports whether the assistant requested tools in this turn.
func (m AssistantMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) SystemMessage {
	return SystemMessage{Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) UserMessage {
	return UserMessage{Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string, calls ...ToolCallRequest) AssistantMessage {
	m := AssistantMessage{Content: content}
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCallRequest(nil), calls...)
	}
	return m
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) ToolMessage {
	return ToolMessage{ToolCallID: toolCallID, Name: name, Content: content}
}

// NewMessage builds the variant for a textual role. Tool messages need a call
// id and must be built with NewToolMessage.
func NewMessage(role Role, content string) (Message, error) {
	switch role {
	case RoleSystem:
		return NewSystemMessage(content), nil
	case RoleUser:
		return NewUserMessage(content), nil
	case RoleAssistant:
		return NewAssistantMessage(content), nil
	case RoleTool:
		return nil, ErrMissingToolCallID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// =============================================================================
// Wire envelope
// =============================================================================

var (
	// ErrUnknownRole 未知的消息角色
	ErrUnknownRole = errors.New("unknown message role")
	// ErrMissingToolCallID tool 消息缺少 tool_call_id
	ErrMissingToolCallID = errors.New("tool message requires tool_call_id")
)

// MessageEnvelope is the flat JSON form of a Message.
type MessageEnvelope struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// EncodeMessage flattens a Message into its envelope.
func EncodeMessage(m Message) MessageEnvelope {
	env := MessageEnvelope{Role: m.Role(), Content: m.Text()}
	switch v := m.(type) {
	case AssistantMessage:
		env.ToolCalls = v.ToolCalls
	case ToolMessage:
		env.ToolCallID = v.ToolCallID
		env.Name = v.Name
	}
	return env
}

// DecodeMessage rebuilds the role variant from an envelope.
func DecodeMessage(env MessageEnvelope) (Message, error) {
	switch env.Role {
	case RoleAssistant:
		return NewAssistantMessage(env.Content, env.ToolCalls...), nil
	case RoleTool:
		if env.ToolCallID == "" {
			return nil, ErrMissingToolCallID
		}
		return NewToolMessage(env.ToolCallID, env.Name, env.Content), nil
	default:
		return NewMessage(env.Role, env.Content)
	}
}

// EncodeMessages flattens a history.
func EncodeMessages(msgs []Message) []MessageEnvelope {
	out := make([]MessageEnvelope, len(msgs))
	for i, m := range msgs {
		out[i] = EncodeMessage(m)
	}
	return out
}

// MarshalMessages encodes a history as a JSON array of envelopes.
func MarshalMessages(msgs []Message) ([]byte, error) {
	return json.Marshal(EncodeMessages(msgs))
}

// UnmarshalMessages decodes a JSON array of envelopes.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var envs []MessageEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(envs))
	for i, env := range envs {
		m, err := DecodeMessage(env)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
