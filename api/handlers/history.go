package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent/persistence"
	"github.com/comigor/jarvis-go/types"
)

// =============================================================================
// 📜 会话历史 Handler
// =============================================================================

// AppendMessageRequest is the body of POST /.
type AppendMessageRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// HistoryResponse carries the whole history of one session.
type HistoryResponse struct {
	Messages []persistence.HistoryRecord `json:"messages"`
}

// HistoryHandler 会话历史处理器
type HistoryHandler struct {
	store  persistence.HistoryStore
	logger *zap.Logger
}

// NewHistoryHandler 创建历史处理器
func NewHistoryHandler(store persistence.HistoryStore, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "history")),
	}
}

// HandleAppend 追加一条消息并返回该会话的完整历史
// @Summary 追加会话消息
// @Tags 历史
// @Accept json
// @Produce json
// @Param request body AppendMessageRequest true "消息"
// @Success 200 {object} HistoryResponse "会话历史"
// @Failure 400 {object} Response "无效请求"
// @Failure 500 {object} Response "存储错误"
// @Router / [post]
func (h *HistoryHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateAppendRequest(&req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	ctx := r.Context()
	rec := persistence.HistoryRecord{
		SessionID: req.SessionID,
		Role:      req.Role,
		Content:   req.Content,
	}
	if _, err := h.store.Save(ctx, rec); err != nil {
		h.writeStoreError(w, r, "failed to save message", err)
		return
	}

	records, err := h.store.List(ctx, req.SessionID)
	if err != nil {
		h.writeStoreError(w, r, "failed to load history", err)
		return
	}
	if records == nil {
		records = []persistence.HistoryRecord{}
	}

	h.logger.Debug("message appended",
		zap.String("session_id", req.SessionID),
		zap.String("role", req.Role),
		zap.Int("history_len", len(records)))

	WriteJSON(w, http.StatusOK, HistoryResponse{Messages: records})
}

func (h *HistoryHandler) writeStoreError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := types.ErrInternalError
	if errors.Is(err, persistence.ErrInvalidRecord) {
		code = types.ErrInvalidRequest
	}
	WriteError(w, r, types.NewError(code, msg).WithCause(err), h.logger)
}

func validateAppendRequest(req *AppendMessageRequest) *types.Error {
	if strings.TrimSpace(req.SessionID) == "" {
		return types.NewError(types.ErrInvalidRequest, "session_id is required")
	}
	if strings.TrimSpace(req.Role) == "" {
		return types.NewError(types.ErrInvalidRequest, "role is required")
	}
	return nil
}
