package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 内嵌迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// DefaultTableName 版本表名
const DefaultTableName = "schema_migrations"

// ErrUnsupportedDatabase 不支持的数据库方言
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint `json:"current_version"`
	Dirty             bool `json:"dirty"`
	TotalMigrations   int  `json:"total_migrations"`
	AppliedMigrations int  `json:"applied_migrations"`
	PendingMigrations int  `json:"pending_migrations"`
}

// Migrator 数据库迁移操作集
type Migrator interface {
	// Up 应用全部待执行迁移
	Up(ctx context.Context) error
	// Down 回滚最近一次迁移
	Down(ctx context.Context) error
	// Steps n>0 前进 n 步，n<0 回退 |n| 步
	Steps(ctx context.Context, n int) error
	// Version 当前版本；未执行过任何迁移时为 0
	Version(ctx context.Context) (uint, bool, error)
	// Status 全部迁移的状态
	Status(ctx context.Context) ([]MigrationStatus, error)
	// Info 状态摘要
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 基于 golang-migrate 的实现
// =============================================================================

// DefaultMigrator 以 embed.FS 为源、已打开的 *sql.DB 为目标
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
}

var _ Migrator = (*DefaultMigrator)(nil)

// NewMigrator 在已打开的连接上创建迁移器。Close 会一并关闭 db。
func NewMigrator(db *sql.DB, dbType DatabaseType, tableName string, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tableName == "" {
		tableName = DefaultTableName
	}

	driver, err := databaseDriver(db, dbType, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := sourceDriver(dbType)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	log := logger.With(zap.String("component", "migration"), zap.String("database", string(dbType)))
	m.Log = &zapLogger{sugar: log.Sugar(), verbose: log.Core().Enabled(zap.DebugLevel)}

	return &DefaultMigrator{dbType: dbType, migrate: m, logger: log}, nil
}

func databaseDriver(db *sql.DB, dbType DatabaseType, tableName string) (migratedb.Driver, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: tableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: tableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabase, dbType)
	}
}

func migrationsDir(dbType DatabaseType) (string, error) {
	switch dbType {
	case DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite:
		return "migrations/" + string(dbType), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDatabase, dbType)
	}
}

func sourceDriver(dbType DatabaseType) (source.Driver, error) {
	dir, err := migrationsDir(dbType)
	if err != nil {
		return nil, err
	}
	return iofs.New(migrationsFS, dir)
}

// run 在后台执行迁移，ctx 取消时请求 golang-migrate 在当前迁移结束后停止
func (m *DefaultMigrator) run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case m.migrate.GracefulStop <- true:
		default:
		}
		<-done
		return ctx.Err()
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up 应用全部待执行迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.run(ctx, func() error { return ignoreNoChange(m.migrate.Up()) }); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.run(ctx, func() error { return ignoreNoChange(m.migrate.Down()) }); err != nil {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps 前进或回退 n 步
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	err := m.run(ctx, func() error {
		err := m.migrate.Steps(n)
		// 已在最低版本时继续回退，视为无变化
		if n < 0 && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return ignoreNoChange(err)
	})
	if err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Version 当前版本
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 全部迁移的状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := AvailableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses, nil
}

// Info 状态摘要
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 关闭源与数据库连接
func (m *DefaultMigrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// MigrationFile 一个内嵌迁移
type MigrationFile struct {
	Version uint
	Name    string
}

// AvailableMigrations 按版本升序列出某方言的内嵌迁移
func AvailableMigrations(dbType DatabaseType) ([]MigrationFile, error) {
	dir, err := migrationsDir(dbType)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []MigrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_messages.up.sql
		version, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(version, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, MigrationFile{
			Version: uint(v),
			Name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ParseDatabaseType 解析方言名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDatabase, s)
	}
}

// zapLogger 适配 migrate.Logger
type zapLogger struct {
	sugar   *zap.SugaredLogger
	verbose bool
}

func (l *zapLogger) Printf(format string, v ...any) {
	l.sugar.Debugf(strings.TrimRight(format, "\n"), v...)
}

func (l *zapLogger) Verbose() bool { return l.verbose }
