package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type memoryTable struct {
	hashAttribute string
	records       map[string][]byte
}

// MemoryStore 是进程内实现，用于开发环境与测试；重启即丢失。
type MemoryStore struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*memoryTable
}

var _ DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schemas: make(map[string]map[string]*memoryTable)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateSchema(_ context.Context, schema string) error {
	if err := ValidateName("schema", schema); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[schema]; ok {
		return ErrAlreadyExists
	}
	s.schemas[schema] = make(map[string]*memoryTable)
	return nil
}

func (s *MemoryStore) CreateTable(_ context.Context, schema, table, hashAttribute string) error {
	if err := validateNamespace(schema, table); err != nil {
		return err
	}
	if err := ValidateName("hash_attribute", hashAttribute); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tables, ok := s.schemas[schema]
	if !ok {
		return ErrSchemaNotFound
	}
	if _, ok := tables[table]; ok {
		return ErrAlreadyExists
	}
	tables[table] = &memoryTable{hashAttribute: hashAttribute, records: make(map[string][]byte)}
	return nil
}

func (s *MemoryStore) DescribeTable(_ context.Context, schema, table string) (TableInfo, error) {
	if err := validateNamespace(schema, table); err != nil {
		return TableInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(schema, table)
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{Schema: schema, Table: table, HashAttribute: t.hashAttribute}, nil
}

// lookup 需在持有锁时调用。
func (s *MemoryStore) lookup(schema, table string) (*memoryTable, error) {
	tables, ok := s.schemas[schema]
	if !ok {
		return nil, ErrSchemaNotFound
	}
	t, ok := tables[table]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

type memoryWriteFunc func(t *memoryTable, staged map[string][]byte, raw []byte) (string, bool, error)

// write 先在 staged 上计算整批结果，全部成功后才落到表里。
func (s *MemoryStore) write(schema, table string, docs []json.RawMessage, fn memoryWriteFunc) ([]string, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(schema, table)
	if err != nil {
		return nil, err
	}
	staged := make(map[string][]byte)
	out := make([]string, 0, len(docs))
	for _, raw := range docs {
		hv, ok, err := fn(t, staged, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, hv)
		}
	}
	for hv, doc := range staged {
		t.records[hv] = doc
	}
	return out, nil
}

func (t *memoryTable) current(staged map[string][]byte, hv string) ([]byte, bool) {
	if doc, ok := staged[hv]; ok {
		return doc, true
	}
	doc, ok := t.records[hv]
	return doc, ok
}

func (s *MemoryStore) Insert(_ context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(schema, table, docs, func(t *memoryTable, staged map[string][]byte, raw []byte) (string, bool, error) {
		doc, hv, err := prepareDocument(raw, t.hashAttribute, true)
		if err != nil {
			return "", false, err
		}
		if _, ok := t.current(staged, hv); ok {
			return "", false, fmt.Errorf("%w: %s", ErrRecordExists, hv)
		}
		staged[hv] = append([]byte(nil), doc...)
		return hv, true, nil
	})
}

func (s *MemoryStore) Upsert(_ context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(schema, table, docs, func(t *memoryTable, staged map[string][]byte, raw []byte) (string, bool, error) {
		doc, hv, err := prepareDocument(raw, t.hashAttribute, true)
		if err != nil {
			return "", false, err
		}
		staged[hv] = append([]byte(nil), doc...)
		return hv, true, nil
	})
}

func (s *MemoryStore) Update(_ context.Context, schema, table string, docs []json.RawMessage) ([]string, error) {
	return s.write(schema, table, docs, func(t *memoryTable, staged map[string][]byte, raw []byte) (string, bool, error) {
		patch, hv, err := prepareDocument(raw, t.hashAttribute, false)
		if err != nil {
			return "", false, err
		}
		cur, ok := t.current(staged, hv)
		if !ok {
			return "", false, nil
		}
		merged, err := mergeDocument(cur, patch)
		if err != nil {
			return "", false, err
		}
		staged[hv] = merged
		return hv, true, nil
	})
}

func (s *MemoryStore) SearchByHash(_ context.Context, schema, table string, hashValues []string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(schema, table)
	if err != nil {
		return nil, err
	}
	out := []json.RawMessage{}
	for _, hv := range uniqueStrings(hashValues) {
		doc, ok := t.records[hv]
		if !ok {
			continue
		}
		p, err := projectDocument(append([]byte(nil), doc...), getAttributes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) SearchByValue(_ context.Context, schema, table, attribute, value string, getAttributes []string) ([]json.RawMessage, error) {
	if err := validateNamespace(schema, table); err != nil {
		return nil, err
	}
	if err := ValidateName("search_attribute", attribute); err != nil {
		return nil, err
	}
	if err := validateAttributes(getAttributes); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(schema, table)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []json.RawMessage{}
	for _, k := range keys {
		doc := t.records[k]
		if !matchesValue(doc, attribute, value) {
			continue
		}
		p, err := projectDocument(append([]byte(nil), doc...), getAttributes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) DeleteByHash(_ context.Context, schema, table string, hashValues []string) (int64, error) {
	if err := validateNamespace(schema, table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(schema, table)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, hv := range uniqueStrings(hashValues) {
		if _, ok := t.records[hv]; ok {
			delete(t.records, hv)
			n++
		}
	}
	return n, nil
}
