package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"hdbauth/internal/auth"
	"hdbauth/internal/middleware"
)

const (
	setupMessage  = "HDB MSAL Auth has been setup"
	logoutMessage = "Logout Successful"
)

func setAuthRoutes(r *gin.Engine, opts Options) {
	if opts.Auth == nil {
		return
	}
	chain := func(h http.HandlerFunc) gin.HandlerFunc {
		return wrapHTTP(baseChain(opts, h))
	}

	r.GET("/setup", chain(setupHandler(opts)))
	r.GET("/login", chain(loginRedirectHandler(opts)))
	r.POST("/login", chain(loginHandler(opts)))
	r.GET("/redirect", chain(redirectCallbackHandler(opts)))
	r.GET("/logout", chain(logoutHandler(opts)))
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := auth.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "认证流程失败", "request_id", middleware.GetRequestID(r.Context()), "path", r.URL.Path, "err", err)
	}
	writeText(w, status, auth.PublicMessage(err))
}

func setupHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := opts.Auth.Setup(r.Context()); err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, setupMessage)
	}
}

// loginRedirectHandler 把浏览器引导到身份提供方的登录页。
func loginRedirectHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := opts.Auth.AuthorizationURL(r.Context())
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// loginHandler 接受 JSON 或表单格式的用户名/密码，成功时以纯文本返回凭据。
func loginHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		b := binding.Default(r.Method, filterFlags(r.Header.Get("Content-Type")))
		if err := b.Bind(r, &req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeText(w, http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
				return
			}
			// 请求体无法解析与缺少凭据同等对待。
			writeAuthError(w, r, auth.ErrUnauthorized)
			return
		}
		credential, err := opts.Auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, credential)
	}
}

func redirectCallbackHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.URL.Query().Get("code"))
		credential, err := opts.Auth.CompleteRedirect(r.Context(), code)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, credential)
	}
}

// logoutHandler 对缺失或无效的凭据同样返回成功。
func logoutHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := opts.Auth.Logout(r.Context(), middleware.ExtractCredential(r)); err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeText(w, http.StatusOK, logoutMessage)
	}
}

func filterFlags(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(ct)
}
