// Package store 提供 schema/table/记录 三层的文档存储抽象，网关的会话表与 CRUD 数据都落在这里。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrAlreadyExists 仅由 CreateSchema/CreateTable 返回，调用方可视为幂等成功。
	ErrAlreadyExists   = errors.New("already exists")
	ErrSchemaNotFound  = errors.New("schema not found")
	ErrTableNotFound   = errors.New("table not found")
	ErrRecordExists    = errors.New("record already exists")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidName     = errors.New("invalid name")
)

// AllAttributes 作为 getAttributes 的元素时表示返回整条记录。
const AllAttributes = "*"

// MaxHashValueLen 与 MySQL 主键列宽度一致。
const MaxHashValueLen = 191

type TableInfo struct {
	Schema        string `json:"schema"`
	Table         string `json:"table"`
	HashAttribute string `json:"hash_attribute"`
}

// DocumentStore 是会话存储与 CRUD 共享的持久化协作方。
// 记录为 JSON 对象，以表的 hash attribute 为主键。
type DocumentStore interface {
	Ping(ctx context.Context) error

	CreateSchema(ctx context.Context, schema string) error
	CreateTable(ctx context.Context, schema, table, hashAttribute string) error
	DescribeTable(ctx context.Context, schema, table string) (TableInfo, error)

	// Insert 遇到已存在的主键返回 ErrRecordExists；缺主键时自动生成。
	Insert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error)
	// Update 将每个文档的顶层字段合并进已有记录；不存在的主键被跳过。
	Update(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error)
	// Upsert 整条覆盖（last-write-wins）。
	Upsert(ctx context.Context, schema, table string, docs []json.RawMessage) ([]string, error)

	SearchByHash(ctx context.Context, schema, table string, hashValues []string, getAttributes []string) ([]json.RawMessage, error)
	// SearchByValue 中 value 为 "*" 时匹配所有包含该属性的记录。
	SearchByValue(ctx context.Context, schema, table, attribute, value string, getAttributes []string) ([]json.RawMessage, error)
	DeleteByHash(ctx context.Context, schema, table string, hashValues []string) (int64, error)
}

// ValidateName 校验 schema/table/attribute 名：1~128 位字母数字、下划线或连字符。
func ValidateName(kind, name string) error {
	if name == "" || len(name) > 128 {
		return fmt.Errorf("%w: %s 长度不合法", ErrInvalidName, kind)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %s 包含非法字符: %q", ErrInvalidName, kind, name)
		}
	}
	return nil
}

func validateNamespace(schema, table string) error {
	if err := ValidateName("schema", schema); err != nil {
		return err
	}
	return ValidateName("table", table)
}

func validateAttributes(attrs []string) error {
	for _, a := range attrs {
		if a == AllAttributes {
			continue
		}
		if err := ValidateName("attribute", a); err != nil {
			return err
		}
	}
	return nil
}

// prepareDocument 校验文档并返回主键值；缺主键时写入一个 UUID。
func prepareDocument(doc []byte, hashAttribute string, generate bool) ([]byte, string, error) {
	if !gjson.ValidBytes(doc) {
		return nil, "", fmt.Errorf("%w: 不是合法 JSON", ErrInvalidDocument)
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil, "", fmt.Errorf("%w: 记录必须是 JSON 对象", ErrInvalidDocument)
	}
	var keyErr error
	root.ForEach(func(k, _ gjson.Result) bool {
		keyErr = ValidateName("attribute", k.String())
		return keyErr == nil
	})
	if keyErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDocument, keyErr)
	}

	hv := root.Get(hashAttribute)
	switch {
	case !hv.Exists() || hv.Type == gjson.Null:
		if !generate {
			return nil, "", fmt.Errorf("%w: 缺少主键 %s", ErrInvalidDocument, hashAttribute)
		}
		id := uuid.NewString()
		out, err := sjson.SetBytes(doc, hashAttribute, id)
		if err != nil {
			return nil, "", fmt.Errorf("写入主键失败: %w", err)
		}
		return out, id, nil
	case hv.Type == gjson.String || hv.Type == gjson.Number:
		if hv.String() == "" || len(hv.String()) > MaxHashValueLen {
			return nil, "", fmt.Errorf("%w: 主键 %s 为空或过长", ErrInvalidDocument, hashAttribute)
		}
		return doc, hv.String(), nil
	default:
		return nil, "", fmt.Errorf("%w: 主键 %s 必须是字符串或数字", ErrInvalidDocument, hashAttribute)
	}
}

// mergeDocument 将 patch 的顶层字段覆盖到 existing 上。
func mergeDocument(existing, patch []byte) ([]byte, error) {
	out := append([]byte(nil), existing...)
	var err error
	gjson.ParseBytes(patch).ForEach(func(k, v gjson.Result) bool {
		out, err = sjson.SetRawBytes(out, k.String(), []byte(v.Raw))
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("合并记录失败: %w", err)
	}
	return out, nil
}

func wantsAllAttributes(attrs []string) bool {
	if len(attrs) == 0 {
		return true
	}
	for _, a := range attrs {
		if a == AllAttributes {
			return true
		}
	}
	return false
}

// projectDocument 只保留 attrs 中列出的顶层字段。
func projectDocument(doc []byte, attrs []string) (json.RawMessage, error) {
	if wantsAllAttributes(attrs) {
		return json.RawMessage(doc), nil
	}
	out := []byte(`{}`)
	for _, a := range attrs {
		v := gjson.GetBytes(doc, a)
		if !v.Exists() {
			continue
		}
		var err error
		out, err = sjson.SetRawBytes(out, a, []byte(v.Raw))
		if err != nil {
			return nil, fmt.Errorf("投影字段 %s 失败: %w", a, err)
		}
	}
	return json.RawMessage(out), nil
}

func matchesValue(doc []byte, attribute, value string) bool {
	v := gjson.GetBytes(doc, attribute)
	if !v.Exists() {
		return false
	}
	if value == AllAttributes {
		return true
	}
	return v.String() == value
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// peekHashValue 读取主键但不做完整校验；无法读取时返回空串。
func peekHashValue(doc []byte, hashAttribute string) string {
	v := gjson.GetBytes(doc, hashAttribute)
	if v.Type != gjson.String && v.Type != gjson.Number {
		return ""
	}
	return v.String()
}
