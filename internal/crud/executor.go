package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"hdbauth/internal/auth"
	"hdbauth/internal/store"
)

// Result 为一次操作的结果；搜索类操作只填 Records。
type Result struct {
	Records []json.RawMessage
	Message string
	Hashes  []string
	Skipped []string
}

// Body 返回对外响应体：搜索返回记录数组，写操作返回 HarperDB 风格的摘要对象。
func (r Result) Body(op OpName) any {
	switch op {
	case OpSearchByHash, OpSearchByValue:
		if r.Records == nil {
			return []json.RawMessage{}
		}
		return r.Records
	case OpDelete:
		return map[string]any{
			"message":        r.Message,
			"deleted_hashes": nonNil(r.Hashes),
			"skipped_hashes": nonNil(r.Skipped),
		}
	case OpUpdate:
		return map[string]any{
			"message":        r.Message,
			"update_hashes":  nonNil(r.Hashes),
			"skipped_hashes": nonNil(r.Skipped),
		}
	case OpUpsert:
		return map[string]any{"message": r.Message, "upserted_hashes": nonNil(r.Hashes)}
	default:
		return map[string]any{"message": r.Message, "inserted_hashes": nonNil(r.Hashes)}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Executor 按 Grant 执行操作；未授权的 schema/table 一律拒绝。
type Executor struct {
	ds        store.DocumentStore
	protected map[string]struct{}
}

// NewExecutor 的 protectedSchemas 对任何身份（含 super_user）都不可经 CRUD 访问。
// 比较不区分大小写：MySQL 后端按 ci 排序规则匹配 schema 名。
func NewExecutor(ds store.DocumentStore, protectedSchemas ...string) *Executor {
	p := make(map[string]struct{}, len(protectedSchemas))
	for _, s := range protectedSchemas {
		p[strings.ToLower(s)] = struct{}{}
	}
	return &Executor{ds: ds, protected: p}
}

func (e *Executor) authorize(grant auth.Grant, op Operation) error {
	if _, ok := e.protected[strings.ToLower(op.Schema)]; ok {
		return fmt.Errorf("%w: schema %s 不对外开放", ErrForbidden, op.Schema)
	}
	need, err := op.requiredOps()
	if err != nil {
		return err
	}
	for _, n := range need {
		if !grant.Allows(op.Schema, op.Table, n) {
			return fmt.Errorf("%w: %s.%s 缺少 %s 权限", ErrForbidden, op.Schema, op.Table, n)
		}
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, grant auth.Grant, op Operation) (Result, error) {
	if err := e.authorize(grant, op); err != nil {
		slog.DebugContext(ctx, "CRUD 拒绝", "operation", op.Operation, "schema", op.Schema, "table", op.Table, "err", err)
		return Result{}, err
	}

	switch op.Operation {
	case OpSearchByHash:
		recs, err := e.ds.SearchByHash(ctx, op.Schema, op.Table, op.HashValues, op.GetAttributes)
		if err != nil {
			return Result{}, err
		}
		return Result{Records: scrubRecords(recs)}, nil

	case OpSearchByValue:
		attr := op.SearchAttribute
		if attr == "" {
			info, err := e.ds.DescribeTable(ctx, op.Schema, op.Table)
			if err != nil {
				return Result{}, err
			}
			attr = info.HashAttribute
		}
		recs, err := e.ds.SearchByValue(ctx, op.Schema, op.Table, attr, op.SearchValue, op.GetAttributes)
		if err != nil {
			return Result{}, err
		}
		return Result{Records: scrubRecords(recs)}, nil

	case OpInsert:
		ids, err := e.ds.Insert(ctx, op.Schema, op.Table, op.Records)
		if err != nil {
			return Result{}, err
		}
		return Result{Hashes: ids, Message: fmt.Sprintf("inserted %d of %d records", len(ids), len(op.Records))}, nil

	case OpUpdate, OpUpsert:
		records, err := e.bindPathHash(ctx, op)
		if err != nil {
			return Result{}, err
		}
		if op.Operation == OpUpsert {
			ids, err := e.ds.Upsert(ctx, op.Schema, op.Table, records)
			if err != nil {
				return Result{}, err
			}
			return Result{Hashes: ids, Message: fmt.Sprintf("upserted %d of %d records", len(ids), len(records))}, nil
		}
		ids, err := e.ds.Update(ctx, op.Schema, op.Table, records)
		if err != nil {
			return Result{}, err
		}
		res := Result{Hashes: ids, Message: fmt.Sprintf("updated %d of %d records", len(ids), len(records))}
		if len(ids) == 0 && op.hashFromPath != "" {
			res.Skipped = []string{op.hashFromPath}
		}
		return res, nil

	case OpDelete:
		n, err := e.ds.DeleteByHash(ctx, op.Schema, op.Table, op.HashValues)
		if err != nil {
			return Result{}, err
		}
		res := Result{Message: fmt.Sprintf("%d of %d record successfully deleted", n, len(op.HashValues))}
		if n > 0 {
			res.Hashes = op.HashValues
		} else {
			res.Skipped = op.HashValues
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Operation)
}

// bindPathHash 查询表的主键属性，把路径 id 写入记录。
func (e *Executor) bindPathHash(ctx context.Context, op Operation) ([]json.RawMessage, error) {
	if op.hashFromPath == "" {
		return op.Records, nil
	}
	info, err := e.ds.DescribeTable(ctx, op.Schema, op.Table)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(op.Records))
	for _, rec := range op.Records {
		bound, err := withHashValue(rec, info.HashAttribute, op.hashFromPath)
		if err != nil {
			return nil, err
		}
		out = append(out, bound)
	}
	return out, nil
}

func scrubRecords(recs []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		clean, err := stripUserField(r)
		if err != nil {
			continue
		}
		out = append(out, clean)
	}
	return out
}
