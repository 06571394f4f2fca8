// Package store 负责按驱动打开文档存储，业务层不接触连接细节。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// OpenOptions 汇总各后端的连接参数；只读取 Driver 对应的字段。
type OpenOptions struct {
	Env        string
	Driver     Driver
	MySQLDSN   string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open 打开文档存储并完成表结构自举；返回的 closeFn 释放底层连接。
func Open(ctx context.Context, opts OpenOptions) (DocumentStore, func() error, error) {
	d := Driver(strings.ToLower(strings.TrimSpace(string(opts.Driver))))
	switch d {
	case DriverSQLite:
		return openSQLStore(DialectSQLite, func() (*sql.DB, error) {
			db, err := OpenSQLite(ctx, opts.SQLitePath)
			if err != nil {
				return nil, err
			}
			return db, EnsureSQLiteSchema(ctx, db)
		})
	case DriverMySQL:
		return openSQLStore(DialectMySQL, func() (*sql.DB, error) {
			db, err := OpenMySQL(ctx, opts.Env, opts.MySQLDSN)
			if err != nil {
				return nil, err
			}
			return db, ApplyMigrations(ctx, db)
		})
	case DriverRedis:
		rdb, err := OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(rdb, opts.RedisPrefix), rdb.Close, nil
	case DriverMemory:
		return NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("不支持的存储驱动：%q", opts.Driver)
	}
}

// openSQLStore 在自举失败时关闭已打开的连接。
func openSQLStore(d Dialect, open func() (*sql.DB, error)) (DocumentStore, func() error, error) {
	db, err := open()
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, err
	}
	st := New(db)
	st.SetDialect(d)
	return st, db.Close, nil
}
