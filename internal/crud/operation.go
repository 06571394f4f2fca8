// Package crud 把 REST 形式的请求整形为存储操作，并按请求上下文中的授权执行。
package crud

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hdbauth/internal/auth"
	"hdbauth/internal/store"
)

type OpName string

const (
	OpSearchByHash  OpName = "search_by_hash"
	OpSearchByValue OpName = "search_by_value"
	OpInsert        OpName = "insert"
	OpUpdate        OpName = "update"
	OpUpsert        OpName = "upsert"
	OpDelete        OpName = "delete"
)

// userField 由网关注入，客户端提交的同名字段会被丢弃。
const userField = "hdb_user"

// Operation 是发往存储的操作信封，字段命名与 HarperDB 的 operations API 一致。
type Operation struct {
	Operation       OpName            `json:"operation"`
	Schema          string            `json:"schema"`
	Table           string            `json:"table"`
	HashValues      []string          `json:"hash_values,omitempty"`
	GetAttributes   []string          `json:"get_attributes,omitempty"`
	SearchAttribute string            `json:"search_attribute,omitempty"`
	SearchValue     string            `json:"search_value,omitempty"`
	Records         []json.RawMessage `json:"records,omitempty"`

	// hashFromPath 为路径中的 id；执行 update/upsert 时写入记录的主键字段。
	hashFromPath string
}

// requiredOps 给出执行该操作需要的表级权限；upsert 同时需要 insert 与 update。
func (o Operation) requiredOps() ([]auth.Operation, error) {
	switch o.Operation {
	case OpSearchByHash, OpSearchByValue:
		return []auth.Operation{auth.OpRead}, nil
	case OpInsert:
		return []auth.Operation{auth.OpInsert}, nil
	case OpUpdate:
		return []auth.Operation{auth.OpUpdate}, nil
	case OpUpsert:
		return []auth.Operation{auth.OpInsert, auth.OpUpdate}, nil
	case OpDelete:
		return []auth.Operation{auth.OpDelete}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, o.Operation)
	}
}

func SearchByHash(schema, table, id string) Operation {
	return Operation{
		Operation:     OpSearchByHash,
		Schema:        schema,
		Table:         table,
		HashValues:    []string{id},
		GetAttributes: []string{store.AllAttributes},
	}
}

// SearchAll 以主键属性做通配查询；主键名在执行时解析。
func SearchAll(schema, table string) Operation {
	return Operation{
		Operation:     OpSearchByValue,
		Schema:        schema,
		Table:         table,
		SearchValue:   store.AllAttributes,
		GetAttributes: []string{store.AllAttributes},
	}
}

// Insert 接受单个对象或对象数组。
func Insert(schema, table string, body []byte) (Operation, error) {
	records, err := recordsFromBody(body)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Operation: OpInsert, Schema: schema, Table: table, Records: records}, nil
}

// Update 对应 PATCH：路径 id 覆盖记录里的主键字段后做字段合并。
func Update(schema, table, id string, body []byte) (Operation, error) {
	return singleRecord(OpUpdate, schema, table, id, body)
}

// Upsert 对应 PUT：整条替换，不存在则创建。
func Upsert(schema, table, id string, body []byte) (Operation, error) {
	return singleRecord(OpUpsert, schema, table, id, body)
}

func Delete(schema, table, id string) Operation {
	return Operation{Operation: OpDelete, Schema: schema, Table: table, HashValues: []string{id}}
}

func singleRecord(name OpName, schema, table, id string, body []byte) (Operation, error) {
	if strings.TrimSpace(id) == "" {
		return Operation{}, fmt.Errorf("%w: 缺少记录 id", ErrBadRequest)
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return Operation{}, fmt.Errorf("%w: 请求体必须是 JSON 对象", ErrBadRequest)
	}
	rec, err := stripUserField(body)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Operation: name, Schema: schema, Table: table, Records: []json.RawMessage{rec}, hashFromPath: id}, nil
}

func recordsFromBody(body []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: 请求体不是合法 JSON", ErrBadRequest)
	}
	root := gjson.ParseBytes(body)
	var items []gjson.Result
	switch {
	case root.IsObject():
		items = []gjson.Result{root}
	case root.IsArray():
		items = root.Array()
	default:
		return nil, fmt.Errorf("%w: 请求体必须是对象或对象数组", ErrBadRequest)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: 记录为空", ErrBadRequest)
	}
	out := make([]json.RawMessage, 0, len(items))
	for i, it := range items {
		if !it.IsObject() {
			return nil, fmt.Errorf("%w: records[%d] 不是对象", ErrBadRequest, i)
		}
		rec, err := stripUserField([]byte(it.Raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func stripUserField(rec []byte) (json.RawMessage, error) {
	if !gjson.GetBytes(rec, userField).Exists() {
		return json.RawMessage(rec), nil
	}
	out, err := sjson.DeleteBytes(rec, userField)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return json.RawMessage(out), nil
}

func withHashValue(rec []byte, attr, id string) (json.RawMessage, error) {
	out, err := sjson.SetBytes(rec, attr, id)
	if err != nil {
		return nil, fmt.Errorf("写入主键失败: %w", err)
	}
	return json.RawMessage(out), nil
}
