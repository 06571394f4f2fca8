package router

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"hdbauth/internal/crud"
	"hdbauth/internal/middleware"
)

// AuthFlow 为登录/回调/注销路由背后的流程控制器。
type AuthFlow interface {
	Setup(ctx context.Context) error
	Login(ctx context.Context, username, secret string) (string, error)
	AuthorizationURL(ctx context.Context) (string, error)
	CompleteRedirect(ctx context.Context, code string) (string, error)
	Logout(ctx context.Context, credential string) error
}

type Options struct {
	Auth      AuthFlow
	Validator middleware.Validator
	CRUD      *crud.Executor

	// 0 表示不限制。
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	TrustedProxies []netip.Prefix

	// DebugVars 为 true 时挂载 /debug/vars（仅 super_user 可访问）。
	DebugVars bool

	Healthz http.HandlerFunc
}
