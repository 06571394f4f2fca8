package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "hdb:"

	// 乐观事务冲突时的最大重试次数。
	redisMaxTxRetries = 8
)

// RedisStore 把每张表存为一个 HASH（field=主键，value=JSON 文档）。
//
//	<prefix>schemas                 SET  schema 名
//	<prefix>tables:<schema>         HASH table -> hash_attribute
//	<prefix>records:<schema>:<tbl>  HASH hash_value -> doc
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ DocumentStore = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("HDBAUTH_REDIS_ADDR 不能为空")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis.Ping: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) schemasKey() string { return s.prefix + "schemas" }

func (s *RedisStore) tablesKey(schema string) string { return s.prefix + "tables:" + schema }

func (s *RedisStore) recordsKey(schema, table string) string {
	return s.prefix + "records:" + schema + ":" + table
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.Ping: %w", err)
	}
	return nil
}

func (s *RedisStore) CreateSchema(ctx context.Context, schema string) error {
	if err := ValidateName("schema", schema); err != nil {
		return err
	}
	n, err := s.rdb.SAdd(ctx, s.schemasKey(), schema).Result()
	if err != nil {
		return fmt.Errorf("创建 schema %s 失败: %w", schema, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) CreateTable(ctx context.Context, schema, table, hashAttribute string) error {
	if err := validateNamespace(schema, table); err != nil {
		return err
	}
	if err := ValidateName("hash_attribute", hashAttribute); err != nil {
		return err
	}
	ok, err := s.rdb.SIsMember(ctx, s.schemasKey(), schema).Result()
	if err != nil {
		return fmt.Errorf("查询 schema %s 失败: %w", schema, err)
	}
	if !ok {
		return ErrSchemaNotFound
	}
	created, err := s.rdb.HSetNX(ctx, s.tablesKey(schema), table, hashAttribute).Result()
	if err != nil {
		return fmt.Errorf("创建表 %s.%s 失败: %w", schema, table, err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) DescribeTable(ctx context.Context, schema, table string) (TableInfo, error) {
	if err := validateNamespace(schema, table); err != nil {
		return TableInfo{}, err
	}
	return s.tableInfo(ctx, schema, table)
}

func (s *RedisStore) tableInfo(ctx context.Context, schema, table string) (TableInfo, error) {
	attr, err := s.rdb.HGet(ctx, s.tablesKey(schema), table).Result()
	if errors.Is(err, redis.Nil) {
		ok, err := s.rdb.SIsMember(ctx, s.schemasKey(), schema).Result()
		if err != nil {
			return TableInfo{}, fmt.Errorf("查询 schema %s 失败: %w", schema, err)
		}
		if !ok {
			return TableInfo{}, ErrSchemaNotFound
		}
		return TableInfo{}, ErrTableNotFound
	}
	if err != nil {
		return TableInfo{}, fmt.Errorf("查询表 %s.%s 失败: %w", schema, table, err)
	}
	return TableInfo{Schema: schema, Table: table, HashAttribute: attr}, nil
}

func (s *RedisStore) Upsert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	info, err := s.tableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(docs)*2)
	out := make([]string, 0, len(docs))
	for _, raw := range docs {
		doc, hv, err := prepareDocument(raw, info.HashAttribute, true)
		if err != nil {
			return nil, err
		}
		values = append(values, hv, string(doc))
		out = append(out, hv)
	}
	if len(values) == 0 {
		return out, nil
	}
	if err := s.rdb.HSet(ctx, s.recordsKey(schema, table), values...).Err(); err != nil {
		return nil, fmt.Errorf("覆盖写入记录失败: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Insert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.watchWrite(ctx, schema, table, docs, func(info TableInfo, existing map[string]string, raw []byte) (string, string, bool, error) {
		doc, hv, err := prepareDocument(raw, info.HashAttribute, true)
		if err != nil {
			return "", "", false, err
		}
		if _, ok := existing[hv]; ok {
			return "", "", false, fmt.Errorf("%w: %s", ErrRecordExists, hv)
		}
		existing[hv] = string(doc)
		return hv, string(doc), true, nil
	})
}

func (s *RedisStore) Update(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.watchWrite(ctx, schema, table, docs, func(info TableInfo, existing map[string]string, raw []byte) (string, string, bool, error) {
		patch, hv, err := prepareDocument(raw, info.HashAttribute, false)
		if err != nil {
			return "", "", false, err
		}
		cur, ok := existing[hv]
		if !ok {
			return "", "", false, nil
		}
		merged, err := mergeDocument([]byte(cur), patch)
		if err != nil {
			return "", "", false, err
		}
		existing[hv] = string(merged)
		return hv, string(merged), true, nil
	})
}

// redisWriteFunc 在 existing（当前批次可见的记录视图）上计算一次写入。
type redisWriteFunc func(info TableInfo, existing map[string]string, raw []byte) (hv, doc string, ok bool, err error)

// watchWrite 用 WATCH/MULTI 保证整批读改写的原子性；冲突时重试。
func (s *RedisStore) watchWrite(ctx context.Context, schema, table string, docs []json.RawMessage, fn redisWriteFunc) ([]string, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	info, err := s.tableInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	key := s.recordsKey(schema, table)

	var out []string
	txf := func(tx *redis.Tx) error {
		out = out[:0]
		existing := make(map[string]string)
		for _, raw := range docs {
			// 先按主键把已存在的记录读进视图，fn 再在视图上判断。
			if hv := peekHashValue(raw, info.HashAttribute); hv != "" {
				if _, seen := existing[hv]; !seen {
					cur, err := tx.HGet(ctx, key, hv).Result()
					switch {
					case err == nil:
						existing[hv] = cur
					case !errors.Is(err, redis.Nil):
						return fmt.Errorf("读取记录失败: %w", err)
					}
				}
			}
		}
		values := make([]any, 0, len(docs)*2)
		for _, raw := range docs {
			hv, doc, ok, err := fn(info, existing, raw)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			values = append(values, hv, doc)
			out = append(out, hv)
		}
		if len(values) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values...)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return append([]string{}, out...), nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("写入 %s.%s 冲突重试次数耗尽", schema, table)
}

func (s *RedisStore) SearchByHash(ctx context.Context, schema, table string, hashValues []string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	if _, err := s.tableInfo(ctx, schema, table); err != nil {
		return nil, err
	}
	hashValues = uniqueStrings(hashValues)
	if len(hashValues) == 0 {
		return []json.RawMessage{}, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.recordsKey(schema, table), hashValues...).Result()
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	out := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		doc, ok := v.(string)
		if !ok {
			continue
		}
		p, err := projectDocument([]byte(doc), getAttributes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *RedisStore) SearchByValue(ctx context.Context, schema, table, attribute, value string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := ValidateName("search_attribute", attribute); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	if _, err := s.tableInfo(ctx, schema, table); err != nil {
		return nil, err
	}
	all, err := s.rdb.HGetAll(ctx, s.recordsKey(schema, table)).Result()
	if err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []json.RawMessage{}
	for _, k := range keys {
		doc := []byte(all[k])
		if !matchesValue(doc, attribute, value) {
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

func (s *RedisStore) DeleteByHash(ctx context.Context, schema, table string, hashValues []string) (int64, error) {
	if err := validateNamespace(schema, table); err != nil {
		return 0, err
	}
	if _, err := s.tableInfo(ctx, schema, table); err != nil {
		return 0, err
	}
	hashValues = uniqueStrings(hashValues)
	if len(hashValues) == 0 {
		return 0, nil
	}
	n, err := s.rdb.HDel(ctx, s.recordsKey(schema, table), hashValues...).Result()
	if err != nil {
		return 0, fmt.Errorf("删除记录失败: %w", err)
	}
	return n, nil
}
