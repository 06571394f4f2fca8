package session

import (
	"fmt"
	"strings"

	"hdbauth/internal/store"
)

// KeyScheme 决定会话记录的查找键与对外凭据的形态。
type KeyScheme string

const (
	// KeyHandleAndToken：凭据为 handle.token，记录以随机 handle 为键。
	KeyHandleAndToken KeyScheme = "handle_and_token"
	// KeyHashedTokenOnly：凭据为裸 token，记录以 token 的确定性摘要为键。
	KeyHashedTokenOnly KeyScheme = "hashed_token_only"
)

const credentialDelimiter = "."

func ParseKeyScheme(raw string) (KeyScheme, error) {
	switch KeyScheme(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KeyHandleAndToken:
		return KeyHandleAndToken, nil
	case KeyHashedTokenOnly:
		return KeyHashedTokenOnly, nil
	default:
		return "", fmt.Errorf("未知的会话键方案: %q", raw)
	}
}

// KeyAttribute 为会话表的 hash attribute 名。
func (s KeyScheme) KeyAttribute() string {
	if s == KeyHashedTokenOnly {
		return "token_hash"
	}
	return "user"
}

func (s KeyScheme) formatCredential(handle, token string) string {
	if s == KeyHashedTokenOnly {
		return token
	}
	return handle + credentialDelimiter + token
}

// splitCredential 拆出查找键与密文部分；HashedTokenOnly 下查找键由调用方再做摘要。
func (s KeyScheme) splitCredential(credential string) (lookup, secret string, ok bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", "", false
	}
	if s == KeyHashedTokenOnly {
		if strings.Contains(credential, credentialDelimiter) || len(credential) > store.MaxHashValueLen {
			return "", "", false
		}
		return credential, credential, true
	}
	handle, token, found := strings.Cut(credential, credentialDelimiter)
	if !found || handle == "" || token == "" || strings.Contains(token, credentialDelimiter) {
		return "", "", false
	}
	if len(handle) > store.MaxHashValueLen {
		return "", "", false
	}
	return handle, token, true
}
