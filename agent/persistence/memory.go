package persistence

import (
	"context"
	"sync"
)

// MemoryHistoryStore 内存实现，进程退出即丢失
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[string][]HistoryRecord
	closed   bool
}

var _ HistoryStore = (*MemoryHistoryStore)(nil)

// NewMemoryHistoryStore 创建内存历史存储
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{sessions: make(map[string][]HistoryRecord)}
}

func (s *MemoryHistoryStore) Save(ctx context.Context, rec HistoryRecord) (HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return HistoryRecord{}, err
	}
	rec, err := prepare(rec)
	if err != nil {
		return HistoryRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return HistoryRecord{}, ErrStoreClosed
	}
	s.nextID++
	rec.ID = s.nextID
	s.sessions[rec.SessionID] = append(s.sessions[rec.SessionID], rec)
	return rec, nil
}

func (s *MemoryHistoryStore) List(ctx context.Context, sessionID string) ([]HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := s.sessions[sessionID]
	out := make([]HistoryRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *MemoryHistoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return ctx.Err()
}

func (s *MemoryHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
