package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"stakedex-indexer-sol/pkg/logger"
)

// 迁移脚本为 goose 格式（-- +goose Up / Down），版本号来自文件名前缀
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

func newMigrator(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("init migrations failed: %w", err)
	}
	return p, nil
}

// latestVersion 返回内置迁移的最高版本
func latestVersion(p *goose.Provider) int64 {
	sources := p.ListSources()
	if len(sources) == 0 {
		return 0
	}
	return sources[len(sources)-1].Version
}

// migrateTo 将数据库迁移到 target 版本，向上执行 Up，向下执行 Down，每个版本一个事务
func migrateTo(ctx context.Context, p *goose.Provider, target int64) error {
	latest := latestVersion(p)
	if target < 0 || target > latest {
		return fmt.Errorf("unknown schema version %d (latest %d)", target, latest)
	}

	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version failed: %w", err)
	}
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, latest)
	}

	var results []*goose.MigrationResult
	switch {
	case target > current:
		results, err = p.UpTo(ctx, target)
	case target < current:
		results, err = p.DownTo(ctx, target)
	}
	if err != nil {
		return fmt.Errorf("migrate %d -> %d failed: %w", current, target, err)
	}
	for _, r := range results {
		logger.Infof("[Store:migrate] %s %s, cost=%v", r.Direction, filepath.Base(r.Source.Path), r.Duration)
	}
	return nil
}
