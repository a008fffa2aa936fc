package agent

import (
	"fmt"

	"github.com/comigor/jarvis-go/types"
)

// NoResponseAvailable is returned by FinalContent when no assistant turn exists.
const NoResponseAvailable = "No response available"

// Context 是一次会话的可变记录：消息历史、工具定义、当前批次的工具调用与结果、
// 最近一次错误。
//
// 消息只追加不修改；工具集在创建时固定；待执行请求与结果按批次整体替换，
// 新批次开始时旧结果被清空，避免读到上一轮的结果。
type Context struct {
	messages         []types.Message
	tools            []types.ToolDefinition
	pendingToolCalls []types.ToolCallRequest
	toolResults      []types.ToolCallResult
	lastError        *string
}

// NewContext seeds a conversation. messages must be non-empty; tools may be empty.
func NewContext(messages []types.Message, tools []types.ToolDefinition) (*Context, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	if err := types.ValidateToolDefinitions(tools); err != nil {
		return nil, fmt.Errorf("invalid tool set: %w", err)
	}
	return &Context{
		messages: append([]types.Message(nil), messages...),
		tools:    append([]types.ToolDefinition(nil), tools...),
	}, nil
}

// AppendMessage adds a turn to the end of the history.
func (c *Context) AppendMessage(m types.Message) {
	c.messages = append(c.messages, m)
}

// Messages returns a copy of the history.
func (c *Context) Messages() []types.Message {
	return append([]types.Message(nil), c.messages...)
}

// MessageCount returns the history length.
func (c *Context) MessageCount() int {
	return len(c.messages)
}

// Tools returns a copy of the tool set.
func (c *Context) Tools() []types.ToolDefinition {
	return append([]types.ToolDefinition(nil), c.tools...)
}

// SetPendingToolCalls replaces the pending batch and starts a new execution
// cycle: previously collected results are discarded.
func (c *Context) SetPendingToolCalls(reqs []types.ToolCallRequest) {
	c.pendingToolCalls = append([]types.ToolCallRequest(nil), reqs...)
	c.toolResults = nil
}

// PendingToolCalls returns a copy of the pending batch.
func (c *Context) PendingToolCalls() []types.ToolCallRequest {
	return append([]types.ToolCallRequest{}, c.pendingToolCalls...)
}

// AddToolResults appends results to the current cycle's batch.
func (c *Context) AddToolResults(results []types.ToolCallResult) {
	c.toolResults = append(c.toolResults, results...)
}

// ToolResults returns a copy of the current cycle's results.
func (c *Context) ToolResults() []types.ToolCallResult {
	return append([]types.ToolCallResult{}, c.toolResults...)
}

// SetLastError records a failure description.
func (c *Context) SetLastError(msg string) {
	c.lastError = &msg
}

// LastError returns the recorded failure, if any.
func (c *Context) LastError() (string, bool) {
	if c.lastError == nil {
		return "", false
	}
	return *c.lastError, true
}

// FinalContent returns the content of the most recent assistant turn.
func (c *Context) FinalContent() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if m, ok := c.messages[i].(types.AssistantMessage); ok {
			return m.Content
		}
	}
	return NoResponseAvailable
}
