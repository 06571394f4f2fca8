package idp

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// rolesFromIDToken 从 id_token 中提取 role 列表，保持原始顺序与内容。
//
// id_token 直接来自令牌端点（TLS 通道内的后端交换），这里不重复验签。
// claim 缺失表示用户没有任何 role，返回空列表而不是错误。
func rolesFromIDToken(idToken, claim string) ([]string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("解析 id_token 失败: %w", err)
	}
	raw, ok := claims[claim]
	if !ok || raw == nil {
		return []string{}, nil
	}
	if s, ok := raw.(string); ok {
		return []string{s}, nil
	}
	var roles []string
	if err := mapstructure.Decode(raw, &roles); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidClaim, claim, err)
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, nil
}
