// Package store 的 SQL 实现：schema/table/记录映射到三张表，写操作在事务内完成。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Store 是 SQLite/MySQL 上的 DocumentStore 实现。
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ DocumentStore = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		dialect: DialectMySQL,
	}
}

func (s *Store) SetDialect(d Dialect) {
	if strings.TrimSpace(string(d)) == "" {
		return
	}
	s.dialect = d
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db.Ping(%s): %w", s.dialect, err)
	}
	return nil
}

func (s *Store) CreateSchema(ctx context.Context, schema string) error {
	if err := ValidateName("schema", schema); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, insertIgnoreVerb(s.dialect)+` INTO doc_schemas(name, created_at) VALUES(?, CURRENT_TIMESTAMP)`, schema)
	if err != nil {
		return fmt.Errorf("创建 schema %s 失败: %w", schema, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *Store) CreateTable(ctx context.Context, schema, table, hashAttribute string) error {
	if err := validateNamespace(schema, table); err != nil {
		return err
	}
	if err := ValidateName("hash_attribute", hashAttribute); err != nil {
		return err
	}
	ok, err := s.schemaExists(ctx, s.db, schema)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSchemaNotFound
	}
	res, err := s.db.ExecContext(ctx, insertIgnoreVerb(s.dialect)+` INTO doc_tables(schema_name, table_name, hash_attribute, created_at) VALUES(?, ?, ?, CURRENT_TIMESTAMP)`, schema, table, hashAttribute)
	if err != nil {
		return fmt.Errorf("创建表 %s.%s 失败: %w", schema, table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *Store) DescribeTable(ctx context.Context, schema, table string) (TableInfo, error) {
	if err := validateNamespace(schema, table); err != nil {
		return TableInfo{}, err
	}
	return s.tableInfo(ctx, s.db, schema, table)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) schemaExists(ctx context.Context, q queryer, schema string) (bool, error) {
	var v int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM doc_schemas WHERE name=? LIMIT 1`, schema).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询 schema %s 失败: %w", schema, err)
	}
	return true, nil
}

func (s *Store) tableInfo(ctx context.Context, q queryer, schema, table string) (TableInfo, error) {
	info := TableInfo{Schema: schema, Table: table}
	err := q.QueryRowContext(ctx, `SELECT hash_attribute FROM doc_tables WHERE schema_name=? AND table_name=?`, schema, table).Scan(&info.HashAttribute)
	if errors.Is(err, sql.ErrNoRows) {
		ok, err := s.schemaExists(ctx, q, schema)
		if err != nil {
			return TableInfo{}, err
		}
		if !ok {
			return TableInfo{}, ErrSchemaNotFound
		}
		return TableInfo{}, ErrTableNotFound
	}
	if err != nil {
		return TableInfo{}, fmt.Errorf("查询表 %s.%s 失败: %w", schema, table, err)
	}
	return info, nil
}

func (s *Store) Insert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(ctx, schema, table, docs, s.insertOne)
}

func (s *Store) Upsert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(ctx, schema, table, docs, s.upsertOne)
}

func (s *Store) Update(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(ctx, schema, table, docs, s.updateOne)
}

// writeOneFunc 返回 false 表示该文档被跳过（仅 Update 使用）。
type writeOneFunc func(ctx context.Context, tx *sql.Tx, info TableInfo, doc []byte) (string, bool, error)

// write 在单个事务里处理整批文档；任一文档失败则整批回滚。
func (s *Store) write(ctx context.Context, schema, table string, docs []json.RawMessage, one writeOneFunc) ([]string, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开始写入事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	info, err := s.tableInfo(ctx, tx, schema, table)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		hv, ok, err := one(ctx, tx, info, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, hv)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交写入事务失败: %w", err)
	}
	return out, nil
}

func (s *Store) insertOne(ctx context.Context, tx *sql.Tx, info TableInfo, raw []byte) (string, bool, error) {
	doc, hv, err := prepareDocument(raw, info.HashAttribute, true)
	if err != nil {
		return "", false, err
	}
	if _, found, err := s.loadRecord(ctx, tx, info, hv, false); err != nil {
		return "", false, err
	} else if found {
		return "", false, fmt.Errorf("%w: %s", ErrRecordExists, hv)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO doc_records(schema_name, table_name, hash_value, doc, updated_at) VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)`, info.Schema, info.Table, hv, string(doc)); err != nil {
		return "", false, fmt.Errorf("写入记录失败: %w", err)
	}
	return hv, true, nil
}

func (s *Store) upsertOne(ctx context.Context, tx *sql.Tx, info TableInfo, raw []byte) (string, bool, error) {
	doc, hv, err := prepareDocument(raw, info.HashAttribute, true)
	if err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, upsertRecordSQL(s.dialect), info.Schema, info.Table, hv, string(doc)); err != nil {
		return "", false, fmt.Errorf("覆盖写入记录失败: %w", err)
	}
	return hv, true, nil
}

func (s *Store) updateOne(ctx context.Context, tx *sql.Tx, info TableInfo, raw []byte) (string, bool, error) {
	patch, hv, err := prepareDocument(raw, info.HashAttribute, false)
	if err != nil {
		return "", false, err
	}
	existing, found, err := s.loadRecord(ctx, tx, info, hv, true)
	if err != nil || !found {
		return "", false, err
	}
	merged, err := mergeDocument(existing, patch)
	if err != nil {
		return "", false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE doc_records SET doc=?, updated_at=CURRENT_TIMESTAMP WHERE schema_name=? AND table_name=? AND hash_value=?`, string(merged), info.Schema, info.Table, hv); err != nil {
		return "", false, fmt.Errorf("更新记录失败: %w", err)
	}
	return hv, true, nil
}

func (s *Store) loadRecord(ctx context.Context, q queryer, info TableInfo, hv string, lock bool) ([]byte, bool, error) {
	query := `SELECT doc FROM doc_records WHERE schema_name=? AND table_name=? AND hash_value=?`
	if lock {
		query += forUpdateClause(s.dialect)
	}
	var doc string
	err := q.QueryRowContext(ctx, query, info.Schema, info.Table, hv).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取记录失败: %w", err)
	}
	return []byte(doc), true, nil
}

func (s *Store) SearchByHash(ctx context.Context, schema, table string, hashValues []string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	info, err := s.tableInfo(ctx, s.db, schema, table)
	if err != nil {
		return nil, err
	}
	hashValues = uniqueStrings(hashValues)
	if len(hashValues) == 0 {
		return []json.RawMessage{}, nil
	}

	args := make([]any, 0, len(hashValues)+2)
	args = append(args, info.Schema, info.Table)
	for _, hv := range hashValues {
		args = append(args, hv)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT hash_value, doc FROM doc_records WHERE schema_name=? AND table_name=? AND hash_value IN (`+placeholders(len(hashValues))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(hashValues))
	for rows.Next() {
		var hv, doc string
		if err := rows.Scan(&hv, &doc); err != nil {
			return nil, fmt.Errorf("扫描记录失败: %w", err)
		}
		found[hv] = []byte(doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历记录失败: %w", err)
	}

	out := make([]json.RawMessage, 0, len(found))
	for _, hv := range hashValues {
		doc, ok := found[hv]
		if !ok {
			continue
		}
		p, err := projectDocument(doc, getAttributes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) SearchByValue(ctx context.Context, schema, table, attribute, value string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := ValidateName("search_attribute", attribute); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	info, err := s.tableInfo(ctx, s.db, schema, table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM doc_records WHERE schema_name=? AND table_name=? ORDER BY hash_value`, info.Schema, info.Table)
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("扫描记录失败: %w", err)
		}
		if !matchesValue([]byte(doc), attribute, value) {
			continue
		}
		p, err := projectDocument([]byte(doc), getAttributes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历记录失败: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteByHash(ctx context.Context, schema, table string, hashValues []string) (int64, error) {
	if err := validateNamespace(schema, table); err != nil {
		return 0, err
	}
	info, err := s.tableInfo(ctx, s.db, schema, table)
	if err != nil {
		return 0, err
	}
	hashValues = uniqueStrings(hashValues)
	if len(hashValues) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(hashValues)+2)
	args = append(args, info.Schema, info.Table)
	for _, hv := range hashValues {
		args = append(args, hv)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM doc_records WHERE schema_name=? AND table_name=? AND hash_value IN (`+placeholders(len(hashValues))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("删除记录失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
