package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Record 是一条会话记录；存在即代表一个有效会话。
type Record struct {
	Key           string
	TokenVerifier string
	// Roles 保留身份提供方返回的原始 role 列表，便于审计。
	Roles     []string
	CreatedAt time.Time
	// ExpiresAt 为零值表示不过期。
	ExpiresAt time.Time
}

func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

const (
	fieldToken     = "token"
	fieldRoles     = "roles"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

func encodeRecord(keyAttribute string, r Record) (json.RawMessage, error) {
	roles := r.Roles
	if roles == nil {
		roles = []string{}
	}
	doc := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, path, v)
	}
	set(keyAttribute, r.Key)
	set(fieldToken, r.TokenVerifier)
	set(fieldRoles, roles)
	set(fieldCreatedAt, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if !r.ExpiresAt.IsZero() {
		set(fieldExpiresAt, r.ExpiresAt.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return nil, fmt.Errorf("编码会话记录失败: %w", err)
	}
	return json.RawMessage(doc), nil
}

func decodeRecord(keyAttribute string, doc []byte) (Record, error) {
	if !gjson.ValidBytes(doc) {
		return Record{}, fmt.Errorf("会话记录不是合法 JSON")
	}
	root := gjson.ParseBytes(doc)
	r := Record{
		Key:           root.Get(keyAttribute).String(),
		TokenVerifier: root.Get(fieldToken).String(),
		Roles:         []string{},
	}
	for _, v := range root.Get(fieldRoles).Array() {
		r.Roles = append(r.Roles, v.String())
	}
	var err error
	if r.CreatedAt, err = parseTime(root.Get(fieldCreatedAt)); err != nil {
		return Record{}, fmt.Errorf("解析 %s 失败: %w", fieldCreatedAt, err)
	}
	if r.ExpiresAt, err = parseTime(root.Get(fieldExpiresAt)); err != nil {
		return Record{}, fmt.Errorf("解析 %s 失败: %w", fieldExpiresAt, err)
	}
	return r, nil
}

func parseTime(v gjson.Result) (time.Time, error) {
	if !v.Exists() || v.String() == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v.String())
}
