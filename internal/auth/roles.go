package auth

import (
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultSuperUserRole = "hdb.super_user"
	DefaultRoleNamespace = "hdb"

	roleDelimiter = "."
)

// DefaultPermissionMap 为 role 中的操作词到表级动作的映射。
//
// 已知缺口：update/delete 没有对应的 role 写法，只能通过 super_user 获得。
// 需要时由部署方通过配置显式补充映射，这里不约定任何写法。
func DefaultPermissionMap() map[string]Operation {
	return map[string]Operation{
		"read":  OpRead,
		"write": OpInsert,
	}
}

// UnmappedOperations 返回 perms 中无法通过 role 授予的表级动作。
func UnmappedOperations(perms map[string]Operation) []Operation {
	mapped := make(map[Operation]struct{}, len(perms))
	for _, op := range perms {
		mapped[op] = struct{}{}
	}
	var out []Operation
	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete} {
		if _, ok := mapped[op]; !ok {
			out = append(out, op)
		}
	}
	return out
}

// ParsePermissionMap 解析 "read=read,write=insert" 形式的映射配置。
func ParsePermissionMap(raw string) (map[string]Operation, error) {
	out := make(map[string]Operation)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		word, target, ok := strings.Cut(item, "=")
		word = strings.TrimSpace(word)
		target = strings.ToLower(strings.TrimSpace(target))
		if !ok || word == "" || target == "" {
			return nil, fmt.Errorf("权限映射项不合法: %q", item)
		}
		if strings.Contains(word, roleDelimiter) {
			return nil, fmt.Errorf("权限映射操作词不能包含 %q: %q", roleDelimiter, word)
		}
		op := Operation(target)
		switch op {
		case OpRead, OpInsert, OpUpdate, OpDelete:
		default:
			return nil, fmt.Errorf("权限映射目标不支持: %q（仅支持 read/insert/update/delete）", target)
		}
		out[word] = op
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("权限映射为空")
	}
	return out, nil
}

type MalformedReason string

const (
	ReasonNamespace        MalformedReason = "namespace"
	ReasonSegmentCount     MalformedReason = "segment_count"
	ReasonEmptySegment     MalformedReason = "empty_segment"
	ReasonUnknownOperation MalformedReason = "unknown_operation"
)

// MalformedRole 描述被忽略的 role；它不会中断解析。
type MalformedRole struct {
	Index  int
	Role   string
	Reason MalformedReason
}

func (m MalformedRole) Error() string {
	return fmt.Sprintf("role[%d] 被忽略: %s", m.Index, m.Reason)
}

type RoleParser struct {
	SuperUserRole string
	// Namespace 为可选的前导段（如 hdb.sales.orders.read 中的 hdb）。
	Namespace string
	// RequireNamespace 为 true 时，未带 Namespace 前缀的 role 视为不属于本服务并忽略。
	RequireNamespace bool
	Permissions      map[string]Operation
}

func DefaultRoleParser() RoleParser {
	return RoleParser{
		SuperUserRole:    DefaultSuperUserRole,
		Namespace:        DefaultRoleNamespace,
		RequireNamespace: true,
		Permissions:      DefaultPermissionMap(),
	}
}

// Parse 按顺序处理 roles。super_user 只置位标记，不终止循环；
// 格式不对的 role 被跳过并在第二个返回值中列出。
func (p RoleParser) Parse(roles []string) (Grant, []MalformedRole) {
	var b grantBuilder
	var malformed []MalformedRole
	superUserRole := p.SuperUserRole
	if superUserRole == "" {
		superUserRole = DefaultSuperUserRole
	}
	for i, role := range roles {
		if role == superUserRole {
			b.superUser()
			continue
		}
		schema, table, op, reason := p.split(role)
		if reason != "" {
			malformed = append(malformed, MalformedRole{Index: i, Role: role, Reason: reason})
			continue
		}
		b.allow(schema, table, op)
	}
	return b.build(), malformed
}

func (p RoleParser) split(role string) (string, string, Operation, MalformedReason) {
	parts := strings.Split(role, roleDelimiter)
	switch {
	case p.Namespace != "" && parts[0] == p.Namespace:
		parts = parts[1:]
	case p.RequireNamespace && p.Namespace != "":
		return "", "", "", ReasonNamespace
	}
	if len(parts) != 3 {
		return "", "", "", ReasonSegmentCount
	}
	for _, s := range parts {
		if s == "" {
			return "", "", "", ReasonEmptySegment
		}
	}
	perms := p.Permissions
	if perms == nil {
		perms = DefaultPermissionMap()
	}
	op, ok := perms[parts[2]]
	if !ok {
		return "", "", "", ReasonUnknownOperation
	}
	return parts[0], parts[1], op, ""
}

// grantBuilder 只在一次 Parse 调用内存活，build 之后不再被修改。
type grantBuilder struct {
	g Grant
}

func (b *grantBuilder) superUser() {
	b.g.SuperUser = true
}

func (b *grantBuilder) allow(schema, table string, op Operation) {
	if b.g.Schemas == nil {
		b.g.Schemas = make(map[string]map[string]TablePermission)
	}
	tables, ok := b.g.Schemas[schema]
	if !ok {
		tables = make(map[string]TablePermission)
		b.g.Schemas[schema] = tables
	}
	p, ok := tables[table]
	if !ok {
		p = TablePermission{AttributePermissions: []AttributePermission{}}
	}
	p.set(op)
	tables[table] = p
}

func (b *grantBuilder) build() Grant {
	g := b.g
	b.g = Grant{}
	return g
}

// MalformedReasons 汇总被忽略 role 的原因计数，日志中用它代替 role 原文。
func MalformedReasons(malformed []MalformedRole) map[MalformedReason]int {
	out := make(map[MalformedReason]int)
	for _, m := range malformed {
		out[m.Reason]++
	}
	return out
}

// SortedOperations 用于稳定输出（日志/调试接口）。
func SortedOperations(ops []Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, string(op))
	}
	sort.Strings(out)
	return out
}
