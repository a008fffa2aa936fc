package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent"
	"github.com/comigor/jarvis-go/agent/persistence"
	"github.com/comigor/jarvis-go/types"
)

// =============================================================================
// 💬 会话接口 Handler
// =============================================================================

// ConversationRunner drives one conversation to a terminal state.
// *agent.Driver satisfies it.
type ConversationRunner interface {
	Run(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*agent.Result, error)
}

// ToolCatalog lists the tools offered to the model.
type ToolCatalog interface {
	Tools() []types.ToolDefinition
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ChatResponse is returned when the conversation reaches Done.
type ChatResponse struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Content    string `json:"content"`
	Iterations int    `json:"iterations"`
	ModelCalls int    `json:"model_calls"`
	DurationMs int64  `json:"duration_ms"`
}

// ChatHandler 会话处理器
type ChatHandler struct {
	runner       ConversationRunner
	tools        ToolCatalog
	store        persistence.HistoryStore
	systemPrompt string
	logger       *zap.Logger
}

// NewChatHandler 创建会话处理器，tools 可以为 nil
func NewChatHandler(runner ConversationRunner, tools ToolCatalog, store persistence.HistoryStore, systemPrompt string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		runner:       runner,
		tools:        tools,
		store:        store,
		systemPrompt: systemPrompt,
		logger:       logger.With(zap.String("handler", "chat")),
	}
}

// HandleChat 运行一次会话
// @Summary 运行会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body ChatRequest true "会话请求"
// @Success 200 {object} ChatResponse "会话结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "模型或工具失败"
// @Failure 504 {object} Response "超时"
// @Security ApiKeyAuth
// @Router /v1/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "message is required"), h.logger)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := types.WithSessionID(r.Context(), req.SessionID)
	records, err := h.store.List(ctx, req.SessionID)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "failed to load history").WithCause(err), h.logger)
		return
	}

	messages := h.seed(req, records)

	if _, err := h.store.Save(ctx, persistence.HistoryRecord{
		SessionID: req.SessionID,
		Role:      string(types.RoleUser),
		Content:   req.Message,
	}); err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "failed to save message").WithCause(err), h.logger)
		return
	}

	var tools []types.ToolDefinition
	if h.tools != nil {
		tools = h.tools.Tools()
	}

	res, err := h.runner.Run(ctx, messages, tools)
	if err != nil {
		h.writeRunError(w, r, req.SessionID, err)
		return
	}

	if _, err := h.store.Save(ctx, persistence.HistoryRecord{
		SessionID: req.SessionID,
		Role:      string(types.RoleAssistant),
		Content:   res.Content,
	}); err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "failed to save answer").WithCause(err), h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, ChatResponse{
		SessionID:  req.SessionID,
		State:      string(res.State),
		Content:    res.Content,
		Iterations: res.ToolCycles,
		ModelCalls: res.ModelCalls,
		DurationMs: res.Duration.Milliseconds(),
	})
}

// seed 组装系统提示、历史与本轮用户消息
func (h *ChatHandler) seed(req ChatRequest, records []persistence.HistoryRecord) []types.Message {
	messages := make([]types.Message, 0, len(records)+2)

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = h.systemPrompt
	}
	if prompt != "" {
		messages = append(messages, types.NewSystemMessage(prompt))
	}

	for _, rec := range records {
		// 历史里的 system 消息让位于本轮提示
		if types.Role(rec.Role) == types.RoleSystem && prompt != "" {
			continue
		}
		msg, err := types.NewMessage(types.Role(rec.Role), rec.Content)
		if err != nil {
			h.logger.Warn("skipping history record",
				zap.String("session_id", rec.SessionID),
				zap.Int64("id", rec.ID),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}

	return append(messages, types.NewUserMessage(req.Message))
}

func (h *ChatHandler) writeRunError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = types.NewError(types.ErrTimeout, "conversation timed out").WithCause(err)
	}
	h.logger.Warn("conversation failed",
		zap.String("session_id", sessionID),
		zap.String("code", string(types.GetErrorCode(err))),
		zap.Error(err))
	WriteErrorFrom(w, r, err, h.logger)
}

// chatTimeout bounds a whole conversation when the server sets no write deadline.
const chatTimeout = 5 * time.Minute

// WithTimeout wraps next with a per-request deadline.
func WithTimeout(next http.Handler, d time.Duration) http.Handler {
	if d <= 0 {
		d = chatTimeout
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
