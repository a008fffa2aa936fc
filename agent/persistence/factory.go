package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/database"
)

// NewHistoryStore 根据 history.backend 创建历史存储
func NewHistoryStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := cfg.History.Backend

	switch backend {
	case config.HistoryBackendMemory:
		return NewMemoryHistoryStore(), nil

	case config.HistoryBackendSQLite:
		pool, err := database.Open(database.DriverSQLite, cfg.History.Path, database.DefaultPoolConfig(), logger)
		if err != nil {
			return nil, err
		}
		return newGormStoreOrClose(pool, cfg.History.AutoMigrate, logger)

	case config.HistoryBackendPostgres, config.HistoryBackendMySQL:
		db := cfg.Database
		db.Driver = backend
		pool, err := database.Open(backend, db.DSN(), poolConfig(db), logger)
		if err != nil {
			return nil, err
		}
		return newGormStoreOrClose(pool, cfg.History.AutoMigrate, logger)

	case config.HistoryBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisHistoryStore(client, cfg.Redis.KeyPrefix, logger), nil

	case config.HistoryBackendMongo:
		if cfg.Mongo.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Mongo.Timeout)
			defer cancel()
		}
		return NewMongoHistoryStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, logger)

	default:
		return nil, fmt.Errorf("unknown history backend: %q", backend)
	}
}

func newGormStoreOrClose(pool *database.PoolManager, autoMigrate bool, logger *zap.Logger) (HistoryStore, error) {
	store, err := NewGormHistoryStore(pool, autoMigrate, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

func poolConfig(db config.DatabaseConfig) database.PoolConfig {
	pc := database.DefaultPoolConfig()
	if db.MaxOpenConns > 0 {
		pc.MaxOpenConns = db.MaxOpenConns
	}
	if db.MaxIdleConns > 0 {
		pc.MaxIdleConns = db.MaxIdleConns
	}
	if db.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = db.ConnMaxLifetime
	}
	return pc
}
