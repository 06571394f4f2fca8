package auth

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindUnauthorized 为凭据缺失/无效/过期，可原样返回给调用方。
	KindUnauthorized Kind = "unauthorized"
	// KindProvider 为身份提供方交互失败；细节只进日志。
	KindProvider Kind = "provider_error"
	// KindStoreUnavailable 为会话存储故障，必须与 KindUnauthorized 区分。
	KindStoreUnavailable Kind = "store_unavailable"
	// KindMalformedRole 仅在解析期出现，不会中断请求。
	KindMalformedRole Kind = "malformed_role"
)

var ErrUnauthorized = &Error{Kind: KindUnauthorized}

type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("auth: %s", e.Kind)
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is 让 errors.Is(err, ErrUnauthorized) 按 Kind 匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Cause == nil && e.Kind == t.Kind
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var m MalformedRole
	if errors.As(err, &m) {
		return KindMalformedRole, true
	}
	return "", false
}

// HTTPStatus 将错误映射为对外状态码；未分类错误按基础设施故障处理。
func HTTPStatus(err error) int {
	kind, _ := KindOf(err)
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回固定文案，不包含任何下游错误细节。
func PublicMessage(err error) string {
	kind, _ := KindOf(err)
	switch kind {
	case KindUnauthorized:
		return "HDB Token Error"
	case KindProvider:
		return "Identity Provider Error"
	case KindStoreUnavailable:
		return "Session Store Unavailable"
	default:
		return "Internal Error"
	}
}
