package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"hdbauth/internal/auth"
	"hdbauth/internal/store"
)

const (
	SchemaName = "hdb_msal_auth"
	TableName  = "sessions"
)

// Sessions 是会话表 hdb_msal_auth.sessions 的存取适配层。
// 除 ensure 系列的 “已存在” 外，所有存储错误都以 KindStoreUnavailable 向上返回。
type Sessions struct {
	ds      store.DocumentStore
	keyAttr string
}

func NewSessions(ds store.DocumentStore, scheme KeyScheme) *Sessions {
	return &Sessions{ds: ds, keyAttr: scheme.KeyAttribute()}
}

func (s *Sessions) KeyAttribute() string { return s.keyAttr }

func (s *Sessions) EnsureSchemaExists(ctx context.Context) error {
	err := s.ds.CreateSchema(ctx, SchemaName)
	if errors.Is(err, store.ErrAlreadyExists) {
		slog.InfoContext(ctx, "会话 schema 已存在", "schema", SchemaName)
		return nil
	}
	return auth.Wrap(auth.KindStoreUnavailable, err)
}

func (s *Sessions) EnsureTableExists(ctx context.Context, keyAttribute string) error {
	if keyAttribute == "" {
		keyAttribute = s.keyAttr
	}
	err := s.ds.CreateTable(ctx, SchemaName, TableName, keyAttribute)
	if errors.Is(err, store.ErrAlreadyExists) {
		slog.InfoContext(ctx, "会话表已存在", "schema", SchemaName, "table", TableName)
		return nil
	}
	return auth.Wrap(auth.KindStoreUnavailable, err)
}

// Put 覆盖写入（last-write-wins）。
func (s *Sessions) Put(ctx context.Context, r Record) error {
	doc, err := encodeRecord(s.keyAttr, r)
	if err != nil {
		return err
	}
	_, err = s.ds.Upsert(ctx, SchemaName, TableName, []json.RawMessage{doc})
	return auth.Wrap(auth.KindStoreUnavailable, err)
}

// GetByKey 在记录不存在时返回 found=false 与 nil 错误。
func (s *Sessions) GetByKey(ctx context.Context, key string, attributes []string) (Record, bool, error) {
	docs, err := s.ds.SearchByHash(ctx, SchemaName, TableName, []string{key}, attributes)
	if err != nil {
		return Record{}, false, auth.Wrap(auth.KindStoreUnavailable, err)
	}
	if len(docs) == 0 {
		return Record{}, false, nil
	}
	r, err := decodeRecord(s.keyAttr, docs[0])
	if err != nil {
		return Record{}, false, auth.Wrap(auth.KindStoreUnavailable, err)
	}
	return r, true, nil
}

// DeleteByKey 对不存在的键同样返回 nil。
func (s *Sessions) DeleteByKey(ctx context.Context, key string) error {
	_, err := s.ds.DeleteByHash(ctx, SchemaName, TableName, []string{key})
	return auth.Wrap(auth.KindStoreUnavailable, err)
}
