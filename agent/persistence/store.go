package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidRecord = errors.New("invalid history record")
	ErrNotFound      = errors.New("not found")
	ErrStoreClosed   = errors.New("store is closed")
)

// HistoryRecord 一条已持久化的会话消息
type HistoryRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore 只追加的会话历史存储
type HistoryStore interface {
	// Save 追加一条记录，返回带有 ID 与 CreatedAt 的副本
	Save(ctx context.Context, rec HistoryRecord) (HistoryRecord, error)

	// List 按 ID 升序返回会话的全部记录；未知会话返回空切片
	List(ctx context.Context, sessionID string) ([]HistoryRecord, error)

	// Ping 检查后端是否可用
	Ping(ctx context.Context) error

	// Close 释放连接
	Close() error
}

// prepare 校验记录并补齐创建时间（统一截断到秒，与 SQL 后端一致）
func prepare(rec HistoryRecord) (HistoryRecord, error) {
	if rec.SessionID == "" {
		return rec, fmt.Errorf("%w: session_id is required", ErrInvalidRecord)
	}
	if rec.Role == "" {
		return rec, fmt.Errorf("%w: role is required", ErrInvalidRecord)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = time.Unix(rec.CreatedAt.Unix(), 0).UTC()
	return rec, nil
}
