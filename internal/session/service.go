// Package session 实现会话的签发、校验与注销，以及会话表的存取。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"hdbauth/internal/auth"
	"hdbauth/internal/crypto"
	"hdbauth/internal/idp"
	"hdbauth/internal/obs"
)

type Options struct {
	KeyScheme   KeyScheme
	Verifier    crypto.Verifier
	TokenBytes  int
	HandleBytes int
	// TTL 为 0 表示会话不过期。
	TTL         time.Duration
	Roles       auth.RoleParser
	Scopes      []string
	RedirectURI string
	// LogRoles 打开后，被忽略的 role 原文也会写入日志。
	LogRoles bool
}

type Service struct {
	sessions *Sessions
	provider idp.Provider
	opts     Options
	now      func() time.Time
}

func NewService(sessions *Sessions, provider idp.Provider, opts Options) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("sessions 不能为空")
	}
	if provider == nil {
		return nil, errors.New("provider 不能为空")
	}
	if opts.KeyScheme == "" {
		opts.KeyScheme = KeyHandleAndToken
	}
	if opts.Verifier == nil {
		return nil, errors.New("verifier 不能为空")
	}
	// 以 token 摘要为键时，摘要必须可重复计算。
	if opts.KeyScheme == KeyHashedTokenOnly && !opts.Verifier.Deterministic() {
		return nil, fmt.Errorf("%s 需要确定性的 verifier，当前为 %s", KeyHashedTokenOnly, opts.Verifier.Scheme())
	}
	if sessions.KeyAttribute() != opts.KeyScheme.KeyAttribute() {
		return nil, fmt.Errorf("会话表键 %s 与方案 %s 不一致", sessions.KeyAttribute(), opts.KeyScheme)
	}
	if opts.TokenBytes <= 0 {
		opts.TokenBytes = crypto.DefaultTokenBytes
	}
	if opts.HandleBytes <= 0 {
		opts.HandleBytes = crypto.DefaultHandleBytes
	}
	if opts.Roles.Permissions == nil {
		opts.Roles = auth.DefaultRoleParser()
	}
	return &Service{sessions: sessions, provider: provider, opts: opts, now: time.Now}, nil
}

// Setup 创建会话 schema 与表；重复执行是安全的。
func (s *Service) Setup(ctx context.Context) error {
	if err := s.sessions.EnsureSchemaExists(ctx); err != nil {
		return err
	}
	return s.sessions.EnsureTableExists(ctx, s.opts.KeyScheme.KeyAttribute())
}

// Login 用用户名/密码向身份提供方换取 role 列表，并签发会话凭据。
func (s *Service) Login(ctx context.Context, username, secret string) (string, error) {
	if strings.TrimSpace(username) == "" || secret == "" {
		obs.RecordAuthOutcome("login", "unauthorized")
		return "", auth.ErrUnauthorized
	}
	roles, err := s.provider.AcquireTokenByCredentials(ctx, username, secret, s.opts.Scopes)
	if err != nil {
		slog.WarnContext(ctx, "身份提供方登录失败", "err", err)
		obs.RecordAuthOutcome("login", "provider_error")
		return "", auth.Wrap(auth.KindProvider, err)
	}
	return s.issue(ctx, "login", roles)
}

// AuthorizationURL 返回授权码流程的跳转地址，不创建任何本地状态。
func (s *Service) AuthorizationURL(ctx context.Context) (string, error) {
	u, err := s.provider.AuthorizationURL(s.opts.Scopes, s.opts.RedirectURI)
	if err != nil {
		slog.WarnContext(ctx, "构造授权地址失败", "err", err)
		return "", auth.Wrap(auth.KindProvider, err)
	}
	return u, nil
}

// CompleteRedirect 用授权码换取 role 列表，之后与 Login 相同。
func (s *Service) CompleteRedirect(ctx context.Context, code string) (string, error) {
	roles, err := s.provider.AcquireTokenByCode(ctx, code, s.opts.Scopes, s.opts.RedirectURI)
	if err != nil {
		slog.WarnContext(ctx, "授权码兑换失败", "err", err)
		obs.RecordAuthOutcome("redirect", "provider_error")
		return "", auth.Wrap(auth.KindProvider, err)
	}
	return s.issue(ctx, "redirect", roles)
}

// issue 只在会话记录写入成功后才返回凭据。
func (s *Service) issue(ctx context.Context, op string, roles []string) (string, error) {
	token, err := crypto.GenerateToken(s.opts.TokenBytes)
	if err != nil {
		return "", err
	}
	verifier, err := s.opts.Verifier.Derive(token)
	if err != nil {
		return "", err
	}

	var handle, key string
	switch s.opts.KeyScheme {
	case KeyHashedTokenOnly:
		key = verifier
	default:
		handle, err = crypto.GenerateToken(s.opts.HandleBytes)
		if err != nil {
			return "", err
		}
		key = handle
	}

	now := s.now().UTC()
	rec := Record{
		Key:           key,
		TokenVerifier: verifier,
		Roles:         append([]string{}, roles...),
		CreatedAt:     now,
	}
	if s.opts.TTL > 0 {
		rec.ExpiresAt = now.Add(s.opts.TTL)
	}
	if err := s.sessions.Put(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "写入会话记录失败", "op", op, "err", err)
		obs.RecordAuthOutcome(op, "store_unavailable")
		return "", err
	}
	obs.RecordAuthOutcome(op, "ok")
	slog.InfoContext(ctx, "会话已签发", "op", op, "handle", displayHandle(s.opts.KeyScheme, key), "roles", len(rec.Roles))
	return s.opts.KeyScheme.formatCredential(handle, token), nil
}

// lookupKey 把凭据转换为查找键与密文；格式不对时 ok=false，不触达存储。
func (s *Service) lookupKey(credential string) (key, secret string, ok bool) {
	lookup, secret, ok := s.opts.KeyScheme.splitCredential(credential)
	if !ok {
		return "", "", false
	}
	if s.opts.KeyScheme == KeyHashedTokenOnly {
		digest, err := s.opts.Verifier.Derive(lookup)
		if err != nil {
			return "", "", false
		}
		return digest, secret, true
	}
	return lookup, secret, true
}

// Logout 删除凭据对应的会话。凭据缺失、格式错误或早已失效都按成功处理，
// 只有存储故障会返回错误。
func (s *Service) Logout(ctx context.Context, credential string) error {
	key, secret, ok := s.lookupKey(credential)
	if !ok {
		obs.RecordAuthOutcome("logout", "noop")
		return nil
	}
	rec, found, err := s.sessions.GetByKey(ctx, key, nil)
	if err != nil {
		slog.ErrorContext(ctx, "注销时读取会话失败", "err", err)
		obs.RecordAuthOutcome("logout", "store_unavailable")
		return err
	}
	// 只持有 handle 的调用方不能注销别人的会话。
	if !found || !s.opts.Verifier.Verify(secret, rec.TokenVerifier) {
		obs.RecordAuthOutcome("logout", "noop")
		return nil
	}
	if err := s.sessions.DeleteByKey(ctx, key); err != nil {
		slog.ErrorContext(ctx, "删除会话失败", "err", err)
		obs.RecordAuthOutcome("logout", "store_unavailable")
		return err
	}
	obs.RecordAuthOutcome("logout", "ok")
	return nil
}

// Validate 校验凭据并从会话中保存的 role 构建本次请求的授权。
// 凭据问题一律返回 auth.ErrUnauthorized，存储故障返回 KindStoreUnavailable。
func (s *Service) Validate(ctx context.Context, credential string) (auth.Principal, error) {
	if strings.TrimSpace(credential) == "" {
		obs.RecordAuthOutcome("validate", "missing")
		return auth.Principal{}, auth.ErrUnauthorized
	}
	key, secret, ok := s.lookupKey(credential)
	if !ok {
		obs.RecordAuthOutcome("validate", "unauthorized")
		return auth.Principal{}, auth.ErrUnauthorized
	}
	rec, found, err := s.sessions.GetByKey(ctx, key, nil)
	if err != nil {
		slog.ErrorContext(ctx, "校验时读取会话失败", "err", err)
		obs.RecordAuthOutcome("validate", "store_unavailable")
		return auth.Principal{}, err
	}
	if !found || !s.opts.Verifier.Verify(secret, rec.TokenVerifier) {
		obs.RecordAuthOutcome("validate", "unauthorized")
		return auth.Principal{}, auth.ErrUnauthorized
	}
	if rec.Expired(s.now()) {
		if err := s.sessions.DeleteByKey(ctx, key); err != nil {
			slog.ErrorContext(ctx, "删除过期会话失败", "err", err)
			obs.RecordAuthOutcome("validate", "store_unavailable")
			return auth.Principal{}, err
		}
		obs.RecordAuthOutcome("validate", "expired")
		return auth.Principal{}, auth.ErrUnauthorized
	}

	grant, malformed := s.opts.Roles.Parse(rec.Roles)
	if len(malformed) > 0 {
		s.logMalformed(ctx, malformed)
	}
	obs.RecordAuthOutcome("validate", "ok")
	return auth.Principal{Handle: displayHandle(s.opts.KeyScheme, key), Grant: grant}, nil
}

func (s *Service) logMalformed(ctx context.Context, malformed []auth.MalformedRole) {
	for reason, n := range auth.MalformedReasons(malformed) {
		obs.RecordMalformedRole(string(reason), n)
	}
	slog.WarnContext(ctx, "会话中存在无法解析的 role，已忽略", malformedLogAttrs(malformed, s.opts.LogRoles)...)
}

// malformedLogAttrs 按原因名排序，保证同样的输入得到同样顺序的日志字段。
func malformedLogAttrs(malformed []auth.MalformedRole, logRoles bool) []any {
	reasons := auth.MalformedReasons(malformed)
	keys := make([]string, 0, len(reasons))
	for reason := range reasons {
		keys = append(keys, string(reason))
	}
	sort.Strings(keys)

	attrs := make([]any, 0, 2*len(keys)+4)
	attrs = append(attrs, "ignored", len(malformed))
	for _, k := range keys {
		attrs = append(attrs, "reason_"+k, reasons[auth.MalformedReason(k)])
	}
	if logRoles {
		raw := make([]string, 0, len(malformed))
		for _, m := range malformed {
			raw = append(raw, m.Role)
		}
		attrs = append(attrs, "roles", raw)
	}
	return attrs
}

// displayHandle 给日志与下游使用；摘要键只保留前缀。
func displayHandle(scheme KeyScheme, key string) string {
	if scheme == KeyHashedTokenOnly && len(key) > 12 {
		return key[:12]
	}
	return key
}
