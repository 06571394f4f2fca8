// Package crypto 负责会话 Token 的生成与 verifier 计算；落库的永远是 verifier，不是 Token 原文。
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenBytes  = 12
	DefaultHandleBytes = 6
	DefaultBcryptCost  = 5
)

// VerifierScheme 在进程启动时选定一次，创建与校验必须使用同一种。
type VerifierScheme string

const (
	// VerifierAdaptiveSaltedHash 为 bcrypt（每个 verifier 独立 salt），新部署推荐。
	VerifierAdaptiveSaltedHash VerifierScheme = "adaptive_salted_hash"
	// VerifierFastDigest 为 SHA-256（配置 key 时为 HMAC-SHA-256）。无 salt，可被预计算攻击，仅用于兼容旧数据。
	VerifierFastDigest VerifierScheme = "fast_digest"
)

func ParseVerifierScheme(raw string) (VerifierScheme, error) {
	switch VerifierScheme(strings.ToLower(strings.TrimSpace(raw))) {
	case "", VerifierAdaptiveSaltedHash:
		return VerifierAdaptiveSaltedHash, nil
	case VerifierFastDigest:
		return VerifierFastDigest, nil
	default:
		return "", fmt.Errorf("不支持的 verifier 方案：%s（仅支持 adaptive_salted_hash/fast_digest）", raw)
	}
}

var randReader io.Reader = rand.Reader

// GenerateToken 返回 byteLength 字节随机数的 hex 编码。crypto/rand 可并发使用。
func GenerateToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("token 长度不合法: %d", byteLength)
	}
	b := make([]byte, byteLength)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func TokenHash(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

type Verifier interface {
	Scheme() VerifierScheme
	// Derive 计算可安全落库的 verifier。
	Derive(token string) (string, error)
	// Verify 比较 token 与已存 verifier，不泄漏前缀匹配长度。
	Verify(token string, verifier string) bool
	// Deterministic 表示同一 token 是否总是得到同一 verifier（决定能否直接用作查找 key）。
	Deterministic() bool
}

type BcryptVerifier struct {
	Cost int
}

func (v BcryptVerifier) Scheme() VerifierScheme { return VerifierAdaptiveSaltedHash }

func (v BcryptVerifier) Deterministic() bool { return false }

func (v BcryptVerifier) Derive(token string) (string, error) {
	cost := v.Cost
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt 计算失败: %w", err)
	}
	return string(h), nil
}

func (v BcryptVerifier) Verify(token string, verifier string) bool {
	if token == "" || verifier == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(token)) == nil
}

type DigestVerifier struct {
	Key []byte
}

func (v DigestVerifier) Scheme() VerifierScheme { return VerifierFastDigest }

func (v DigestVerifier) Deterministic() bool { return true }

func (v DigestVerifier) Derive(token string) (string, error) {
	return hex.EncodeToString(v.sum(token)), nil
}

func (v DigestVerifier) Verify(token string, verifier string) bool {
	if token == "" || verifier == "" {
		return false
	}
	want, err := hex.DecodeString(verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(v.sum(token), want) == 1
}

func (v DigestVerifier) sum(token string) []byte {
	if len(v.Key) == 0 {
		return TokenHash(token)
	}
	m := hmac.New(sha256.New, v.Key)
	m.Write([]byte(token))
	return m.Sum(nil)
}

func NewVerifier(scheme VerifierScheme, bcryptCost int, digestKey []byte) (Verifier, error) {
	switch scheme {
	case VerifierAdaptiveSaltedHash:
		if bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost 过大: %d", bcryptCost)
		}
		return BcryptVerifier{Cost: bcryptCost}, nil
	case VerifierFastDigest:
		key := append([]byte(nil), digestKey...)
		return DigestVerifier{Key: key}, nil
	default:
		return nil, fmt.Errorf("不支持的 verifier 方案：%s", scheme)
	}
}
