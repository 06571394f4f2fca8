package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDBAccessDenied = 1044
	mysqlErrAccessDenied   = 1045
	mysqlErrUnknownDB      = 1049
)

// OpenMySQL 连接 MySQL。dev 环境会等待数据库就绪并在库不存在时自动建库，其余环境只 ping 一次。
func OpenMySQL(ctx context.Context, env string, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("HDBAUTH_DB_DSN 不能为空")
	}
	cfg, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open(mysql): %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	wait := time.Duration(0)
	if env == "dev" {
		wait = 30 * time.Second
	}
	if err := waitForMySQL(ctx, db, cfg, wait); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// normalizeMySQLDSN 固定会话时区为 UTC，保证 CURRENT_TIMESTAMP 与解析结果一致。
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := parseMySQLDSN(dsn)
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

func parseMySQLDSN(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("mysql.ParseDSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["time_zone"] = "'+00:00'"
	return cfg, nil
}

// waitForMySQL 在 wait 时间内按指数退避重试 ping；wait 为 0 时只尝试一次。
// 鉴权错误立即返回，库不存在时建库一次后继续。
func waitForMySQL(ctx context.Context, db *sql.DB, cfg *mysql.Config, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	backoff := 200 * time.Millisecond
	created := false
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		switch mysqlErrorNumber(err) {
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied:
			return fmt.Errorf("db.Ping(mysql): %w", err)
		case mysqlErrUnknownDB:
			if wait > 0 && !created {
				if err := createMySQLDatabase(ctx, cfg); err != nil {
					return err
				}
				created = true
				slog.InfoContext(ctx, "MySQL 数据库不存在，已自动创建", "db", cfg.DBName)
				continue
			}
		}

		if wait == 0 || time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("db.Ping(mysql) 第 %d 次失败: %w", attempt, err)
		}
		if attempt == 1 {
			slog.InfoContext(ctx, "等待 MySQL 就绪", "timeout", wait.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, 2*time.Second)
	}
}

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

// createMySQLDatabase 用不带库名的连接执行 CREATE DATABASE IF NOT EXISTS。
func createMySQLDatabase(ctx context.Context, cfg *mysql.Config) error {
	if cfg.DBName == "" {
		return errors.New("dsn 未包含数据库名")
	}
	adminCfg := cfg.Clone()
	adminCfg.DBName = ""
	adminDB, err := sql.Open("mysql", adminCfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("sql.Open(mysql admin): %w", err)
	}
	defer adminDB.Close()

	stmt := "CREATE DATABASE IF NOT EXISTS `" + strings.ReplaceAll(cfg.DBName, "`", "``") + "`"
	if cs := cfg.Params["charset"]; isMySQLWord(cs) {
		stmt += " DEFAULT CHARACTER SET " + cs
	}
	if coll := cfg.Collation; isMySQLWord(coll) {
		stmt += " DEFAULT COLLATE " + coll
	}

	execCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := adminDB.ExecContext(execCtx, stmt); err != nil {
		return fmt.Errorf("create database %s: %w", cfg.DBName, err)
	}
	return nil
}

func isMySQLWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}
