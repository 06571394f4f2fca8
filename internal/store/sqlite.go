package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchemaFS embed.FS

// OpenSQLite 打开单连接的 SQLite 库。path 可以带 driver 参数，例如 "data/hdbauth.db?_busy_timeout=5000"。
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("HDBAUTH_SQLITE_PATH 不能为空")
	}
	if dir := sqliteDataDir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建 sqlite 数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(sqlite): %w", err)
	}
	// 写事务串行，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping(sqlite): %w", err)
	}
	if !isSQLiteMemory(path) {
		_, _ = db.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	}
	return db, nil
}

// EnsureSQLiteSchema 建立 doc_schemas/doc_tables/doc_records；可重复执行。
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("db 为空")
	}
	b, err := sqliteSchemaFS.ReadFile("schema_sqlite.sql")
	if err != nil {
		return fmt.Errorf("读取 schema_sqlite.sql 失败: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始 schema 初始化事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := splitSQLStatements(string(b))
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化 SQLite 文档表失败 (stmt %d/%d): %w", i+1, len(stmts), err)
		}
	}
	return tx.Commit()
}

func isSQLiteMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// sqliteDataDir 返回需要预先创建的目录；内存库与当前目录返回空串。
func sqliteDataDir(path string) string {
	if isSQLiteMemory(path) {
		return ""
	}
	file, _, _ := strings.Cut(strings.TrimPrefix(path, "file:"), "?")
	dir := filepath.Dir(file)
	if dir == "." {
		return ""
	}
	return dir
}
