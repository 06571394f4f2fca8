// Package middleware 提供网关的 net/http 中间件：鉴权、访问日志与请求限制。
package middleware

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain 按书写顺序由外到内包裹 h：Chain(h, a, b) 等价于 a(b(h))。
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}
