// Package middleware 提供最小访问日志（结构化），不记录请求体、查询串与任何凭据。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hdbauth/internal/auth"
	"hdbauth/internal/obs"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

// accessInfo 由 AccessLog 放入上下文，Gatekeeper 在内层回填身份。
type accessInfo struct {
	handle    string
	superUser bool
	set       bool

	clientIP string
}

const accessInfoKey ctxKey = 2

func annotateAccess(ctx context.Context, p auth.Principal) {
	ai, ok := ctx.Value(accessInfoKey).(*accessInfo)
	if !ok || ai == nil {
		return
	}
	ai.handle = p.Handle
	ai.superUser = p.Grant.SuperUser
	ai.set = true
}

func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := obs.TrackRequest()
		defer done()

		sw := &statusWriter{ResponseWriter: w}
		ai := &accessInfo{}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), accessInfoKey, ai)))
		lat := time.Since(start)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", sw.bytes,
			"latency_ms", lat.Milliseconds(),
		}
		if ai.clientIP != "" {
			attrs = append(attrs, "client_ip", ai.clientIP)
		}
		if ai.set {
			attrs = append(attrs, "handle", ai.handle, "super_user", ai.superUser)
		}
		slog.Info("access", attrs...)
	})
}
