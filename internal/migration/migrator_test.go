package migration

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent/persistence"
	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/database"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDatabase)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			files, err := AvailableMigrations(dbType)
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, MigrationFile{Version: 1, Name: "create_messages"}, files[0])
			assert.Equal(t, MigrationFile{Version: 2, Name: "add_messages_created_at_index"}, files[1])
		})
	}

	_, err := AvailableMigrations("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}

// 每个 up 迁移都必须有对应的 down
func TestMigrationsArePaired(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		ups, err := filepath.Glob(filepath.Join("migrations", string(dbType), "*.up.sql"))
		require.NoError(t, err)
		downs, err := filepath.Glob(filepath.Join("migrations", string(dbType), "*.down.sql"))
		require.NoError(t, err)
		assert.Equal(t, len(ups), len(downs), dbType)
	}
}

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestDefaultMigrator_SQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newSQLiteMigrator(t)

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	// 重复 Up 无变化
	require.NoError(t, m.Up(ctx))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[1].Applied)

	require.NoError(t, m.Down(ctx))
	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), info.CurrentVersion)
	assert.Equal(t, 1, info.AppliedMigrations)
	assert.Equal(t, 1, info.PendingMigrations)

	require.NoError(t, m.Steps(ctx, -1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	// 已经在最低版本
	require.NoError(t, m.Steps(ctx, -1))
	require.NoError(t, m.Steps(ctx, 0))

	require.NoError(t, m.Steps(ctx, 1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestDefaultMigrator_CancelledContext(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Up(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// 迁移出来的表与 GORM 历史存储兼容
func TestMigratedSchemaServesHistoryStore(t *testing.T) {
	ctx := context.Background()
	pool, err := database.Open(database.DriverSQLite, ":memory:", database.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := pool.DB().DB()
	require.NoError(t, err)

	m, err := NewMigrator(sqlDB, DatabaseTypeSQLite, "", zap.NewNop())
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Up(ctx))

	store, err := persistence.NewGormHistoryStore(pool, false, zap.NewNop())
	require.NoError(t, err)

	first, err := store.Save(ctx, persistence.HistoryRecord{SessionID: "s", Role: "user", Content: "hello"})
	require.NoError(t, err)
	second, err := store.Save(ctx, persistence.HistoryRecord{SessionID: "s", Role: "assistant", Content: "hi"})
	require.NoError(t, err)
	assert.Less(t, first.ID, second.ID)

	records, err := store.List(ctx, "s")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello", records[0].Content)
}

func TestNewMigratorFromConfig_SQLiteHistoryPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	m, err := NewMigratorFromConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up(context.Background()))
	assert.Equal(t, DatabaseTypeSQLite, m.dbType)
}

func TestNewMigrator_Errors(t *testing.T) {
	_, err := NewMigrator(nil, DatabaseTypeSQLite, "", nil)
	assert.Error(t, err)

	_, err = NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)

	_, err = NewMigratorFromConfig(nil, nil)
	assert.Error(t, err)
}

// =============================================================================
// CLI
// =============================================================================

type fakeMigrator struct {
	version  uint
	dirty    bool
	statuses []MigrationStatus
	err      error
	calls    []string
}

func (f *fakeMigrator) Up(context.Context) error   { f.calls = append(f.calls, "up"); return f.err }
func (f *fakeMigrator) Down(context.Context) error { f.calls = append(f.calls, "down"); return f.err }
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.calls = append(f.calls, "steps")
	return f.err
}
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) { return f.statuses, nil }
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	return &MigrationInfo{CurrentVersion: f.version}, nil
}
func (f *fakeMigrator) Close() error { return nil }

func TestCLI_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("up", func(t *testing.T) {
		fm := &fakeMigrator{version: 2}
		var out bytes.Buffer
		cli := NewCLI(fm)
		cli.SetOutput(&out)

		require.NoError(t, cli.Run(ctx, "up"))
		assert.Equal(t, []string{"up"}, fm.calls)
		assert.Contains(t, out.String(), "Current version: 2")
	})

	t.Run("down failure", func(t *testing.T) {
		fm := &fakeMigrator{err: errors.New("locked")}
		cli := NewCLI(fm)
		cli.SetOutput(&bytes.Buffer{})

		err := cli.Run(ctx, "down")
		assert.ErrorContains(t, err, "rollback failed: locked")
	})

	t.Run("version", func(t *testing.T) {
		var out bytes.Buffer
		cli := NewCLI(&fakeMigrator{version: 3, dirty: true})
		cli.SetOutput(&out)
		require.NoError(t, cli.Run(ctx, "version"))
		assert.Equal(t, "Current version: 3 (dirty)\n", out.String())

		out.Reset()
		cli = NewCLI(&fakeMigrator{})
		cli.SetOutput(&out)
		require.NoError(t, cli.Run(ctx, "version"))
		assert.Equal(t, "No migrations applied yet.\n", out.String())
	})

	t.Run("status", func(t *testing.T) {
		var out bytes.Buffer
		cli := NewCLI(&fakeMigrator{statuses: []MigrationStatus{
			{Version: 1, Name: "create_messages", Applied: true},
			{Version: 2, Name: "add_messages_created_at_index"},
		}})
		cli.SetOutput(&out)

		require.NoError(t, cli.Run(ctx, "status"))
		assert.Regexp(t, `000001\s+create_messages\s+Applied`, out.String())
		assert.Regexp(t, `000002\s+add_messages_created_at_index\s+Pending`, out.String())
		assert.Contains(t, out.String(), "Total: 2, Applied: 1, Pending: 1")
	})

	t.Run("unknown", func(t *testing.T) {
		err := NewCLI(&fakeMigrator{}).Run(ctx, "sideways")
		assert.Error(t, err)
	})
}
