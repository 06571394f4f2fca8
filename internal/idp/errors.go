package idp

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

var (
	ErrMissingIDToken = errors.New("token 响应缺少 id_token")
	ErrInvalidClaim   = errors.New("role claim 格式不合法")
	ErrEmptyCode      = errors.New("authorization code 为空")
)

// TokenEndpointError 保留令牌端点返回的错误码，供日志使用；不可直接返回给调用方。
type TokenEndpointError struct {
	StatusCode       int
	ErrorCode        string
	ErrorDescription string
}

func (e *TokenEndpointError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.ErrorCode != "" || e.ErrorDescription != "" {
		return fmt.Sprintf("token endpoint: %d %s %s", e.StatusCode, e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("token endpoint: %d", e.StatusCode)
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	out := &TokenEndpointError{ErrorCode: re.ErrorCode, ErrorDescription: re.ErrorDescription}
	if re.Response != nil {
		out.StatusCode = re.Response.StatusCode
	}
	return out
}
