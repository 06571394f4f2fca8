// Package auth 定义一次请求的鉴权结果（Principal/Grant）与错误分类，供网关中间件与下游 CRUD 处理共享。
package auth

import (
	"context"
)

type Principal struct {
	// Handle 用于日志关联：handle.token 方案下为公开 handle，hashed_token_only 方案下为 token 摘要的前缀。
	Handle string
	Grant  Grant
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// GrantFromContext 返回网关附加的权限；未通过网关的请求得到零值 Grant（全部拒绝）。
func GrantFromContext(ctx context.Context) (Grant, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Grant{}, false
	}
	return p.Grant, true
}
