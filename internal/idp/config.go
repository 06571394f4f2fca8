// Package idp 封装身份提供方（Azure AD v2 兼容的 OAuth2/OIDC 端点）交互，只向外暴露 role 列表。
package idp

import (
	"strings"
	"time"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// Authority 形如 https://login.microsoftonline.com/<tenant>。
	Authority   string
	RedirectURI string
	Scopes      []string
	// RoleClaim 为 id_token 中 role 列表所在的 claim 名。
	RoleClaim string
	Timeout   time.Duration
}

const (
	DefaultRoleClaim = "roles"
	DefaultTimeout   = 15 * time.Second

	authorizePath = "/oauth2/v2.0/authorize"
	tokenPath     = "/oauth2/v2.0/token"
)

func DefaultScopes() []string { return []string{"user.read"} }

func (c Config) authorizeURL() string { return strings.TrimRight(c.Authority, "/") + authorizePath }

func (c Config) tokenURL() string { return strings.TrimRight(c.Authority, "/") + tokenPath }

func (c Config) roleClaim() string {
	if s := strings.TrimSpace(c.RoleClaim); s != "" {
		return s
	}
	return DefaultRoleClaim
}

// requestScopes 补齐 openid，否则令牌端点不会返回 id_token。
func requestScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+1)
	hasOpenID := false
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if s == "openid" {
			hasOpenID = true
		}
		out = append(out, s)
	}
	if !hasOpenID {
		out = append([]string{"openid"}, out...)
	}
	return out
}
