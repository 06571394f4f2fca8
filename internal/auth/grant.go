package auth

import "encoding/json"

// Operation 为存储层的表级动作。
type Operation string

const (
	OpRead   Operation = "read"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// AttributePermission 为属性级限制：这里只透传，由下游执行。
type AttributePermission struct {
	AttributeName string `json:"attribute_name"`
	Read          bool   `json:"read"`
	Insert        bool   `json:"insert"`
	Update        bool   `json:"update"`
}

type TablePermission struct {
	Read                 bool                  `json:"read"`
	Insert               bool                  `json:"insert"`
	Update               bool                  `json:"update"`
	Delete               bool                  `json:"delete"`
	AttributePermissions []AttributePermission `json:"attribute_permissions"`
}

func (p TablePermission) Allows(op Operation) bool {
	switch op {
	case OpRead:
		return p.Read
	case OpInsert:
		return p.Insert
	case OpUpdate:
		return p.Update
	case OpDelete:
		return p.Delete
	default:
		return false
	}
}

func (p *TablePermission) set(op Operation) {
	switch op {
	case OpRead:
		p.Read = true
	case OpInsert:
		p.Insert = true
	case OpUpdate:
		p.Update = true
	case OpDelete:
		p.Delete = true
	}
}

// Grant 是每个请求现算的权限结果，不落库、不跨请求复用。
// 未出现在 Schemas 中的 schema/table 一律拒绝。
type Grant struct {
	SuperUser bool
	Schemas   map[string]map[string]TablePermission
}

func (g Grant) Table(schema, table string) (TablePermission, bool) {
	tables, ok := g.Schemas[schema]
	if !ok {
		return TablePermission{}, false
	}
	p, ok := tables[table]
	return p, ok
}

// Allows 判断 schema.table 上的 op；super_user 直接放行。
func (g Grant) Allows(schema, table string, op Operation) bool {
	if g.SuperUser {
		return true
	}
	p, ok := g.Table(schema, table)
	if !ok {
		return false
	}
	return p.Allows(op)
}

// MarshalJSON 输出存储层 hdb_user.role.permission 的形态：
// {"super_user":true,"<schema>":{"tables":{"<table>":{...}}}}
func (g Grant) MarshalJSON() ([]byte, error) {
	type schemaPermission struct {
		Tables map[string]TablePermission `json:"tables"`
	}
	out := make(map[string]any, len(g.Schemas)+1)
	if g.SuperUser {
		out["super_user"] = true
	}
	for name, schemaTables := range g.Schemas {
		tables := make(map[string]TablePermission, len(schemaTables))
		for tbl, p := range schemaTables {
			if p.AttributePermissions == nil {
				p.AttributePermissions = []AttributePermission{}
			}
			tables[tbl] = p
		}
		out[name] = schemaPermission{Tables: tables}
	}
	return json.Marshal(out)
}
