package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// openMigrator 便于测试替换
var openMigrator = func(cfg *config.Config, logger *zap.Logger) (migration.Migrator, error) {
	return migration.NewMigratorFromConfig(cfg, logger)
}

// runMigrate handles `jarvis migrate <up|down|status|version|steps N>`.
func runMigrate(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return errors.New("missing migrate subcommand")
	}
	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(stdout)
		return nil
	}

	switch sub {
	case "up", "down", "status", "version", "steps":
	default:
		printMigrateUsage(stderr)
		return fmt.Errorf("unknown migrate subcommand %q", sub)
	}

	// steps 的参数可能是负数，必须在 flag 解析之前取出
	steps := 0
	if sub == "steps" {
		if len(rest) == 0 {
			return errors.New("usage: jarvis migrate steps <n>")
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n == 0 {
			return fmt.Errorf("invalid step count %q", rest[0])
		}
		steps, rest = n, rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	switch cfg.History.Backend {
	case config.HistoryBackendSQLite, config.HistoryBackendPostgres, config.HistoryBackendMySQL:
	default:
		return fmt.Errorf("history backend %q has no SQL schema to migrate", cfg.History.Backend)
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m, err := openMigrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() { _ = m.Close() }()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)

	ctx := context.Background()
	if steps != 0 {
		return cli.RunSteps(ctx, steps)
	}
	return cli.Run(ctx, sub)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  jarvis migrate <subcommand> [-config <path>]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  steps <n> Apply (n > 0) or roll back (n < 0) n migrations
  status    Show migration status
  version   Show current migration version

The target database follows history.backend: sqlite migrates history.path,
postgres and mysql migrate the database section.`)
}
