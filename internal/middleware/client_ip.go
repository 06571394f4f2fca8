package middleware

import (
	"net/http"
	"net/netip"

	"hdbauth/internal/security"
)

// ClientIP 把解析出的客户端地址记入访问日志；须放在 AccessLog 之内。
func ClientIP(trustedProxies []netip.Prefix) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ai, ok := r.Context().Value(accessInfoKey).(*accessInfo); ok && ai != nil {
				ai.clientIP = security.ClientIP(r, trustedProxies)
			}
			next.ServeHTTP(w, r)
		})
	}
}
