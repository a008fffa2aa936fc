package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHistoryStore 基于 Redis 的历史存储
//
// 键布局：
//
//	{prefix}history:seq        全局递增序号（INCR）
//	{prefix}history:{session}  会话记录列表（RPUSH JSON）
type RedisHistoryStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

var _ HistoryStore = (*RedisHistoryStore)(nil)

// NewRedisHistoryStore 使用已有客户端创建存储
func NewRedisHistoryStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisHistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisHistoryStore{
		client:    client,
		keyPrefix: keyPrefix + "history:",
		logger:    logger.With(zap.String("component", "history_store"), zap.String("backend", "redis")),
	}
}

func (s *RedisHistoryStore) seqKey() string { return s.keyPrefix + "seq" }

func (s *RedisHistoryStore) sessionKey(sessionID string) string { return s.keyPrefix + sessionID }

func (s *RedisHistoryStore) Save(ctx context.Context, rec HistoryRecord) (HistoryRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return HistoryRecord{}, err
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return HistoryRecord{}, fmt.Errorf("allocate history id: %w", err)
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return HistoryRecord{}, fmt.Errorf("marshal history record: %w", err)
	}
	if err := s.client.RPush(ctx, s.sessionKey(rec.SessionID), data).Err(); err != nil {
		return HistoryRecord{}, fmt.Errorf("save history: %w", err)
	}
	return rec, nil
}

func (s *RedisHistoryStore) List(ctx context.Context, sessionID string) ([]HistoryRecord, error) {
	items, err := s.client.LRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]HistoryRecord, 0, len(items))
	for _, item := range items {
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			// 跳过损坏的条目，不影响整段会话
			s.logger.Warn("skipping corrupt history entry",
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisHistoryStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
