// Package middleware 提供会话鉴权：Authorization: Bearer <credential>、裸凭据或 access_token 查询参数。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"hdbauth/internal/auth"
)

// AccessTokenParam 为凭据的查询参数形式，供无法设置请求头的客户端使用。
const AccessTokenParam = "access_token"

type Validator interface {
	Validate(ctx context.Context, credential string) (auth.Principal, error)
}

// Gatekeeper 只负责认证并附加授权，不做表级权限判断。
func Gatekeeper(v Validator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := v.Validate(r.Context(), ExtractCredential(r))
			if err != nil {
				status := auth.HTTPStatus(err)
				if status >= http.StatusInternalServerError {
					slog.ErrorContext(r.Context(), "鉴权失败", "request_id", GetRequestID(r.Context()), "err", err)
				}
				http.Error(w, auth.PublicMessage(err), status)
				return
			}
			annotateAccess(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// ExtractCredential 依次读取 Authorization（Bearer <c> 或裸 <c>）与 access_token 查询参数。
func ExtractCredential(r *http.Request) string {
	if c := credentialFromHeader(r.Header.Get("Authorization")); c != "" {
		return c
	}
	return strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
}

func credentialFromHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	scheme, rest, found := strings.Cut(v, " ")
	if !found {
		return v
	}
	if !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
