package router

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"hdbauth/internal/middleware"
)

func wrapHTTP(h http.Handler) gin.HandlerFunc {
	if h == nil {
		return func(c *gin.Context) {
			c.Status(http.StatusNotFound)
		}
	}

	// gin 的路径参数转成 PathValue，下游只依赖 net/http。
	return func(c *gin.Context) {
		for _, p := range c.Params {
			c.Request.SetPathValue(p.Key, p.Value)
		}
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func wrapHTTPFunc(f http.HandlerFunc) gin.HandlerFunc {
	if f == nil {
		return wrapHTTP(nil)
	}
	return wrapHTTP(f)
}

// baseChain 为所有路由共用的前置中间件。
func baseChain(opts Options, h http.Handler, extra ...middleware.Middleware) http.Handler {
	mws := []middleware.Middleware{
		middleware.RequestID,
		middleware.AccessLog,
		middleware.ClientIP(opts.TrustedProxies),
	}
	if opts.RequestTimeout > 0 {
		mws = append(mws, middleware.RequestTimeout(opts.RequestTimeout))
	}
	if opts.MaxBodyBytes > 0 {
		mws = append(mws, middleware.MaxBytes(opts.MaxBodyBytes))
	}
	mws = append(mws, extra...)
	return middleware.Chain(h, mws...)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	out := render.JSON{Data: v}
	out.WriteContentType(w)
	w.WriteHeader(status)
	_ = out.Render(w)
}
