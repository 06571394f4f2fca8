// Package obs 提供最小的可观测能力：结构化日志与必要计数，默认不记录敏感信息。
package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// 这些键的值一律替换为 redacted，即使调用方误传了凭据。
var redactedKeys = map[string]struct{}{
	"credential":    {},
	"token":         {},
	"access_token":  {},
	"password":      {},
	"secret":        {},
	"client_secret": {},
	"authorization": {},
	"code":          {},
}

func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: redact})
	return slog.New(handler).With("service", "hdbauth")
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "redacted")
	}
	return a
}
