package migration

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/database"
)

// NewMigratorFromConfig 按 database 配置打开连接并创建迁移器。
// history.backend 为 sqlite 时迁移 history.path 指向的文件；
// 为 postgres/mysql 时以 backend 作为驱动。
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	db := cfg.Database
	switch cfg.History.Backend {
	case config.HistoryBackendSQLite:
		db.Driver = database.DriverSQLite
		db.Name = cfg.History.Path
	case config.HistoryBackendPostgres, config.HistoryBackendMySQL:
		db.Driver = cfg.History.Backend
	}
	return NewMigratorFromDatabaseConfig(db, logger)
}

// NewMigratorFromDatabaseConfig 使用 PoolManager 打开连接，迁移器接管其生命周期
func NewMigratorFromDatabaseConfig(db config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(db.Driver)
	if err != nil {
		return nil, err
	}
	db.Driver = string(dbType)

	pool, err := database.Open(string(dbType), db.MigrationDSN(), database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := pool.DB().DB()
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	m, err := NewMigrator(sqlDB, dbType, DefaultTableName, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return m, nil
}
