package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolKindFunction is the only tool kind the runtime exposes.
const ToolKindFunction = "function"

// ToolDefinition defines a tool exposed to the model.
// Parameters is an opaque JSON schema handed to the model verbatim.
type ToolDefinition struct {
	Kind        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool creates a function tool definition.
func NewFunctionTool(name, description string, parameters json.RawMessage) ToolDefinition {
	return ToolDefinition{
		Kind:        ToolKindFunction,
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}
}

// ErrDuplicateTool 同一会话内工具名重复
var ErrDuplicateTool = errors.New("duplicate tool name")

// ValidateToolDefinitions checks that every tool has a name and names are unique.
func ValidateToolDefinitions(defs []ToolDefinition) error {
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("tool %d: empty name", i)
		}
		if _, ok := seen[d.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Content block kinds.
const (
	ContentText     = "text"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentJSON     = "json"
	ContentResource = "resource"
)

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ToolCallResult is the outcome of executing one ToolCallRequest.
type ToolCallResult struct {
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Content    []ContentBlock `json:"content"`
	IsError    bool           `json:"is_error"`
}

// NewTextResult creates a successful single-text result.
func NewTextResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: ContentText, Text: text}}}
}

// NewErrorResult creates a failed single-text result.
func NewErrorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: ContentText, Text: text}},
		IsError: true,
	}
}

// Text joins the result's textual content with newlines. Resource blocks
// contribute their embedded text; binary blocks are rendered as a short
// placeholder so the model knows they exist.
func (r ToolCallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		switch {
		case b.Type == ContentText || b.Type == ContentJSON:
			parts = append(parts, b.Text)
		case b.Type == ContentResource && b.Text != "":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, placeholder(b))
		}
	}
	return strings.Join(parts, "\n")
}

func placeholder(b ContentBlock) string {
	mime := b.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	if b.URI != "" {
		return fmt.Sprintf("[%s %s %s]", b.Type, mime, b.URI)
	}
	return fmt.Sprintf("[%s %s]", b.Type, mime)
}
