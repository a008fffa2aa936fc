package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent"
	"github.com/comigor/jarvis-go/llm/tokenizer"
	"github.com/comigor/jarvis-go/types"
)

// ErrNoChoices 模型响应中没有任何候选
var ErrNoChoices = errors.New("completion returned no choices")

// ChatModelConfig configures a ChatModel.
type ChatModelConfig struct {
	Model        string  `json:"model" yaml:"model"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature  float32 `json:"temperature" yaml:"temperature"`
}

// ChatModel adapts a Provider to agent.ModelClient.
type ChatModel struct {
	provider  Provider
	cfg       ChatModelConfig
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

var _ agent.ModelClient = (*ChatModel)(nil)

// ChatModelOption customizes a ChatModel.
type ChatModelOption func(*ChatModel)

// WithTokenizer overrides the tokenizer picked from the model name.
func WithTokenizer(t tokenizer.Tokenizer) ChatModelOption {
	return func(m *ChatModel) { m.tokenizer = t }
}

// NewChatModel creates a ChatModel.
func NewChatModel(provider Provider, cfg ChatModelConfig, logger *zap.Logger, opts ...ChatModelOption) *ChatModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ChatModel{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "chat_model"), zap.String("provider", provider.Name())),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tokenizer == nil {
		m.tokenizer = tokenizer.ForModel(cfg.Model)
	}
	return m
}

// Complete sends the conversation to the provider and decodes the first choice.
func (m *ChatModel) Complete(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (agent.ModelTurn, error) {
	msgs := messages
	if m.cfg.SystemPrompt != "" && !startsWithSystem(messages) {
		msgs = make([]types.Message, 0, len(messages)+1)
		msgs = append(msgs, types.NewSystemMessage(m.cfg.SystemPrompt))
		msgs = append(msgs, messages...)
	}

	wire, err := ToWireMessages(msgs)
	if err != nil {
		return agent.ModelTurn{}, err
	}

	req := &ChatRequest{
		Model:       m.cfg.Model,
		Messages:    wire,
		Tools:       ToWireTools(tools),
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	if n, err := m.tokenizer.CountMessages(msgs); err == nil {
		m.logger.Debug("sending completion",
			zap.Int("messages", len(msgs)),
			zap.Int("tools", len(tools)),
			zap.Int("prompt_tokens_estimate", n),
			zap.String("tokenizer", m.tokenizer.Name()))
	} else {
		m.logger.Debug("token count unavailable", zap.Error(err))
	}

	resp, err := m.provider.Completion(ctx, req)
	if err != nil {
		return agent.ModelTurn{}, err
	}
	if len(resp.Choices) == 0 {
		return agent.ModelTurn{}, ErrNoChoices
	}

	m.logger.Debug("completion received",
		zap.String("model", resp.Model),
		zap.String("finish_reason", resp.Choices[0].FinishReason),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return FromWireMessage(resp.Choices[0].Message)
}

func startsWithSystem(messages []types.Message) bool {
	return len(messages) > 0 && messages[0].Role() == types.RoleSystem
}

// =============================================================================
// 线格式转换
// =============================================================================

// ToWireMessages converts conversation history to the completion wire format.
func ToWireMessages(messages []types.Message) ([]Message, error) {
	out := make([]Message, 0, len(messages))
	for i, msg := range messages {
		switch m := msg.(type) {
		case types.SystemMessage:
			out = append(out, Message{Role: string(types.RoleSystem), Content: m.Content})
		case types.UserMessage:
			out = append(out, Message{Role: string(types.RoleUser), Content: m.Content})
		case types.AssistantMessage:
			wm := Message{Role: string(types.RoleAssistant), Content: m.Content}
			for _, c := range m.ToolCalls {
				args, err := json.Marshal(argumentsOrEmpty(c.Arguments))
				if err != nil {
					return nil, fmt.Errorf("message %d: encode arguments for %s: %w", i, c.Name, err)
				}
				wm.ToolCalls = append(wm.ToolCalls, ToolCall{
					ID:       c.ID,
					Type:     types.ToolKindFunction,
					Function: FunctionCall{Name: c.Name, Arguments: string(args)},
				})
			}
			out = append(out, wm)
		case types.ToolMessage:
			out = append(out, Message{
				Role:       string(types.RoleTool),
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("message %d: unsupported message type %T", i, msg)
		}
	}
	return out, nil
}

func argumentsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

// ToWireTools converts tool definitions to function schemas.
func ToWireTools(tools []types.ToolDefinition) []ToolSchema {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSchema{
			Type: types.ToolKindFunction,
			Function: FunctionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// FromWireMessage decodes an assistant wire message into a model turn.
// Empty argument strings decode to an empty map; anything else must be a JSON object.
func FromWireMessage(msg Message) (agent.ModelTurn, error) {
	turn := agent.ModelTurn{Content: msg.Content}
	for _, c := range msg.ToolCalls {
		args := map[string]any{}
		if c.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
				return agent.ModelTurn{}, fmt.Errorf("malformed arguments for tool %s: %w", c.Function.Name, err)
			}
		}
		turn.ToolCalls = append(turn.ToolCalls, types.ToolCallRequest{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: args,
		})
	}
	return turn, nil
}
