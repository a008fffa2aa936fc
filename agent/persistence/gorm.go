package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comigor/jarvis-go/internal/database"
)

// messageRow messages 表的行结构，与 migrations/ 下的 SQL 保持一致
type messageRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"type:varchar(255);not null;index:idx_messages_session"`
	Role      string `gorm:"type:varchar(32);not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false;index:idx_messages_created_at"`
}

// TableName 固定表名
func (messageRow) TableName() string { return "messages" }

func (r messageRow) record() HistoryRecord {
	return HistoryRecord{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      r.Role,
		Content:   r.Content,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
}

// GormHistoryStore 基于 GORM 的历史存储（sqlite、postgres、mysql）
type GormHistoryStore struct {
	pool   *database.PoolManager
	retry  database.RetryPolicy
	logger *zap.Logger
}

var _ HistoryStore = (*GormHistoryStore)(nil)

// NewGormHistoryStore 在已打开的连接池上创建存储；autoMigrate 为 true 时建表
func NewGormHistoryStore(pool *database.PoolManager, autoMigrate bool, logger *zap.Logger) (*GormHistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := pool.DB().AutoMigrate(&messageRow{}); err != nil {
			return nil, fmt.Errorf("auto migrate messages: %w", err)
		}
	}
	return &GormHistoryStore{
		pool:   pool,
		retry:  database.DefaultRetryPolicy(),
		logger: logger.With(zap.String("component", "history_store"), zap.String("backend", "gorm")),
	}, nil
}

func (s *GormHistoryStore) Save(ctx context.Context, rec HistoryRecord) (HistoryRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return HistoryRecord{}, err
	}
	// sqlite 忙等、postgres 序列化冲突时整条写入重试；每次尝试使用新行，避免残留 ID
	var row messageRow
	err = s.pool.WithTransactionRetry(ctx, s.retry, func(tx *gorm.DB) error {
		row = messageRow{
			SessionID: rec.SessionID,
			Role:      rec.Role,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt.Unix(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return HistoryRecord{}, fmt.Errorf("save history: %w", err)
	}
	return row.record(), nil
}

func (s *GormHistoryStore) List(ctx context.Context, sessionID string) ([]HistoryRecord, error) {
	var rows []messageRow
	err := s.pool.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]HistoryRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *GormHistoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the connection pool for stats export.
func (s *GormHistoryStore) Pool() *database.PoolManager {
	return s.pool
}

func (s *GormHistoryStore) Close() error {
	return s.pool.Close()
}
