package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"pgregory.net/rapid"

	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/database"
)

// =============================================================================
// 通用契约测试，所有后端都必须通过
// =============================================================================

func runHistoryStoreContract(t *testing.T, newStore func(t *testing.T) HistoryStore) {
	ctx := context.Background()

	t.Run("save then list keeps insertion order", func(t *testing.T) {
		store := newStore(t)
		var ids []int64
		for i, role := range []string{"user", "assistant", "user"} {
			rec, err := store.Save(ctx, HistoryRecord{
				SessionID: "s1",
				Role:      role,
				Content:   fmt.Sprintf("m%d", i),
			})
			require.NoError(t, err)
			assert.False(t, rec.CreatedAt.IsZero())
			ids = append(ids, rec.ID)
		}
		// 穿插另一个会话
		_, err := store.Save(ctx, HistoryRecord{SessionID: "s2", Role: "user", Content: "other"})
		require.NoError(t, err)

		records, err := store.List(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, rec := range records {
			assert.Equal(t, ids[i], rec.ID)
			assert.Equal(t, fmt.Sprintf("m%d", i), rec.Content)
			assert.Equal(t, "s1", rec.SessionID)
		}
		assert.Less(t, ids[0], ids[1])
		assert.Less(t, ids[1], ids[2])
	})

	t.Run("unknown session is empty", func(t *testing.T) {
		store := newStore(t)
		records, err := store.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("invalid record", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Save(ctx, HistoryRecord{Role: "user", Content: "x"})
		assert.ErrorIs(t, err, ErrInvalidRecord)
		_, err = store.Save(ctx, HistoryRecord{SessionID: "s", Content: "x"})
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("created_at is kept to the second", func(t *testing.T) {
		store := newStore(t)
		at := time.Date(2024, 5, 1, 12, 30, 15, 999, time.UTC)
		saved, err := store.Save(ctx, HistoryRecord{SessionID: "t", Role: "user", Content: "c", CreatedAt: at})
		require.NoError(t, err)

		records, err := store.List(ctx, "t")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].CreatedAt.Equal(at.Truncate(time.Second)))
		assert.Equal(t, saved, records[0])
	})

	t.Run("ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryHistoryStore(t *testing.T) {
	runHistoryStoreContract(t, func(t *testing.T) HistoryStore {
		return NewMemoryHistoryStore()
	})
}

func TestGormHistoryStore_SQLite(t *testing.T) {
	runHistoryStoreContract(t, func(t *testing.T) HistoryStore {
		pool, err := database.Open(database.DriverSQLite, ":memory:", database.PoolConfig{}, zap.NewNop())
		require.NoError(t, err)
		store, err := NewGormHistoryStore(pool, true, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestRedisHistoryStore(t *testing.T) {
	runHistoryStoreContract(t, func(t *testing.T) HistoryStore {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := NewRedisHistoryStore(client, "jarvis:", zap.NewNop())
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

// =============================================================================
// 后端特有行为
// =============================================================================

func TestMemoryHistoryStore_Closed(t *testing.T) {
	store := NewMemoryHistoryStore()
	require.NoError(t, store.Close())

	_, err := store.Save(context.Background(), HistoryRecord{SessionID: "s", Role: "user"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.List(context.Background(), "s")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestMemoryHistoryStore_ListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()
	_, err := store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user", Content: "original"})
	require.NoError(t, err)

	records, err := store.List(ctx, "s")
	require.NoError(t, err)
	records[0].Content = "mutated"

	again, err := store.List(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestMemoryHistoryStore_ConcurrentSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHistoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user", Content: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := store.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, records, 50)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].ID, records[i].ID)
	}
}

func TestMemoryHistoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryHistoryStore()
	_, err := store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user"})
	assert.ErrorIs(t, err, context.Canceled)
}

// 任意交错的多会话写入后，每个会话的 List 都与写入顺序一致且 ID 递增
func TestMemoryHistoryStore_OrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := NewMemoryHistoryStore()
		sessions := []string{"a", "b", "c"}

		want := make(map[string][]string)
		n := rapid.IntRange(0, 40).Draw(rt, "n")
		for i := 0; i < n; i++ {
			sid := rapid.SampledFrom(sessions).Draw(rt, "session")
			content := rapid.String().Draw(rt, "content")
			if _, err := store.Save(ctx, HistoryRecord{SessionID: sid, Role: "user", Content: content}); err != nil {
				rt.Fatalf("save: %v", err)
			}
			want[sid] = append(want[sid], content)
		}

		for _, sid := range sessions {
			records, err := store.List(ctx, sid)
			if err != nil {
				rt.Fatalf("list: %v", err)
			}
			if len(records) != len(want[sid]) {
				rt.Fatalf("session %s: got %d records, want %d", sid, len(records), len(want[sid]))
			}
			for i, rec := range records {
				if rec.Content != want[sid][i] {
					rt.Fatalf("session %s record %d: got %q want %q", sid, i, rec.Content, want[sid][i])
				}
				if i > 0 && records[i-1].ID >= rec.ID {
					rt.Fatalf("session %s: ids not increasing", sid)
				}
			}
		}
	})
}

func TestRedisHistoryStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisHistoryStore(client, "jarvis:", zap.NewNop())
	defer store.Close()

	_, err := store.Save(ctx, HistoryRecord{SessionID: "s1", Role: "user", Content: "hi"})
	require.NoError(t, err)

	seq, err := mr.Get("jarvis:history:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)

	items, err := mr.List("jarvis:history:s1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"session_id":"s1"`)
	assert.Contains(t, items[0], `"content":"hi"`)
}

func TestRedisHistoryStore_SkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisHistoryStore(client, "", zap.NewNop())
	defer store.Close()

	_, err := store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user", Content: "ok"})
	require.NoError(t, err)
	_, err = mr.Push("history:s", "{not json")
	require.NoError(t, err)

	records, err := store.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Content)
}

func TestRedisHistoryStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewRedisHistoryStore(client, "jarvis:", zap.NewNop())
	defer store.Close()
	mr.Close()

	_, err := store.Save(context.Background(), HistoryRecord{SessionID: "s", Role: "user"})
	assert.Error(t, err)
	assert.Error(t, store.Ping(context.Background()))
}

// =============================================================================
// postgres 路径（sqlmock）
// =============================================================================

func newMockPostgresStore(t *testing.T) (*GormHistoryStore, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), database.GormConfig())
	require.NoError(t, err)
	pool, err := database.NewPoolManager(gormDB, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	store, err := NewGormHistoryStore(pool, false, zap.NewNop())
	require.NoError(t, err)
	store.retry = database.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return store, mock
}

func TestGormHistoryStore_PostgresQueries(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgresStore(t)
	at := time.Unix(1714566615, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages" ("session_id","role","content","created_at") VALUES ($1,$2,$3,$4) RETURNING "id"`)).
		WithArgs("s1", "user", "hello", at.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	rec, err := store.Save(ctx, HistoryRecord{SessionID: "s1", Role: "user", Content: "hello", CreatedAt: at})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	assert.True(t, rec.CreatedAt.Equal(at))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE session_id = $1 ORDER BY id`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "created_at"}).
			AddRow(7, "s1", "user", "hello", at.Unix()).
			AddRow(9, "s1", "assistant", "hi there", at.Unix()+1))

	records, err := store.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(9), records[1].ID)
	assert.Equal(t, "assistant", records[1].Role)

	mock.ExpectClose()
	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormHistoryStore_PostgresFailure(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	boom := errors.New("connection refused")

	// 永久错误只尝试一次
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).WillReturnError(boom)
	mock.ExpectRollback()
	_, err := store.Save(context.Background(), HistoryRecord{SessionID: "s", Role: "user"})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Pool().GetStats().TxRetries)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages"`)).WillReturnError(boom)
	_, err = store.List(context.Background(), "s")
	assert.ErrorIs(t, err, boom)
}

func TestGormHistoryStore_SaveRetriesTransientFailure(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).
		WillReturnError(errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "messages"`)).
		WithArgs("s1", "user", "again", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectCommit()

	rec, err := store.Save(context.Background(), HistoryRecord{SessionID: "s1", Role: "user", Content: "again"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.ID)
	assert.Equal(t, int64(1), store.Pool().GetStats().TxRetries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// 工厂
// =============================================================================

func TestNewHistoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.History.Backend = config.HistoryBackendMemory
		store, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &MemoryHistoryStore{}, store)
	})

	t.Run("sqlite in memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.History.Path = ":memory:"
		store, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &GormHistoryStore{}, store)

		_, err = store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user", Content: "x"})
		require.NoError(t, err)
	})

	t.Run("sqlite without migration has no table", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.History.Path = ":memory:"
		cfg.History.AutoMigrate = false
		store, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Save(ctx, HistoryRecord{SessionID: "s", Role: "user", Content: "x"})
		assert.Error(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.DefaultConfig()
		cfg.History.Backend = config.HistoryBackendRedis
		cfg.Redis.Addr = mr.Addr()
		store, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &RedisHistoryStore{}, store)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		cfg := config.DefaultConfig()
		cfg.History.Backend = config.HistoryBackendRedis
		cfg.Redis.Addr = addr
		_, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.History.Backend = "cassandra"
		_, err := NewHistoryStore(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestPoolConfigFromDatabase(t *testing.T) {
	db := config.DefaultDatabaseConfig()
	db.MaxOpenConns = 40
	db.MaxIdleConns = 0
	pc := poolConfig(db)
	assert.Equal(t, 40, pc.MaxOpenConns)
	assert.Equal(t, database.DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
}

func TestMessageDocRoundTrip(t *testing.T) {
	rec := HistoryRecord{ID: 3, SessionID: "s", Role: "tool", Content: "out", CreatedAt: time.Unix(100, 0).UTC()}
	assert.Equal(t, rec, newMessageDoc(rec).record())
}
