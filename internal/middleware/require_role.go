// Package middleware 提供运维接口的最小保护：只允许 super_user。
package middleware

import (
	"net/http"

	"hdbauth/internal/auth"
)

// RequireSuperUser 需放在 Gatekeeper 之后。
func RequireSuperUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, auth.PublicMessage(auth.ErrUnauthorized), http.StatusUnauthorized)
			return
		}
		if !p.Grant.SuperUser {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
