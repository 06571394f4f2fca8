package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hdbauth/internal/auth"
)

func TestNormalizeHTTPBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		in         string
		label      string
		want       string
		wantErrSub string
	}{
		{name: "empty ok", in: "", label: "AAD_AUTH_URL", want: ""},
		{name: "trim ok", in: " https://login.example.com/ ", label: "AAD_AUTH_URL", want: "https://login.example.com"},
		{name: "path ok", in: "https://login.example.com/tenant/", label: "AAD_AUTH_URL", want: "https://login.example.com/tenant"},
		{name: "invalid scheme", in: "ftp://example.com", label: "AAD_AUTH_URL", wantErrSub: "AAD_AUTH_URL 仅支持 http/https"},
		{name: "missing host", in: "https://", label: "AAD_AUTH_URL", wantErrSub: "AAD_AUTH_URL host 不能为空"},
		{name: "parse error", in: "://bad", label: "AAD_AUTH_URL", wantErrSub: "解析 AAD_AUTH_URL 失败"},
		{name: "no label scheme", in: "ftp://example.com", label: "", wantErrSub: "base_url 仅支持 http/https"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeHTTPBaseURL(tc.in, tc.label)
			if tc.wantErrSub != "" {
				if err == nil {
					t.Fatalf("NormalizeHTTPBaseURL(%q, %q) expected error, got nil", tc.in, tc.label)
				}
				if !strings.Contains(err.Error(), tc.wantErrSub) {
					t.Fatalf("NormalizeHTTPBaseURL(%q, %q) error = %q, want contains %q", tc.in, tc.label, err.Error(), tc.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeHTTPBaseURL(%q, %q) unexpected error: %v", tc.in, tc.label, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeHTTPBaseURL(%q, %q) = %q, want %q", tc.in, tc.label, got, tc.want)
			}
		})
	}
}

func setIdPEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HDBAUTH_AAD_CONFIG_FILE", "-")
	t.Setenv("AAD_CLIENT_ID", "client")
	t.Setenv("AAD_AUTH_URL", "https://login.example.com/tenant/")
	t.Setenv("AAD_CLIENT_SECRET", "secret")
	t.Setenv("AAD_REDIRECT_URI", "https://app.example.com/redirect")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setIdPEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.IdP.Authority != "https://login.example.com/tenant" {
		t.Fatalf("authority = %q", cfg.IdP.Authority)
	}
	if cfg.DB.Driver != "sqlite" || cfg.Session.KeyScheme != "handle_and_token" || cfg.Session.VerifierScheme != "adaptive_salted_hash" {
		t.Fatalf("defaults = %+v %+v", cfg.DB, cfg.Session)
	}
	if len(cfg.IdP.Scopes) != 1 || cfg.IdP.Scopes[0] != "user.read" {
		t.Fatalf("scopes = %v", cfg.IdP.Scopes)
	}
	if cfg.IdP.Timeout() != 15*time.Second {
		t.Fatalf("idp timeout = %s", cfg.IdP.Timeout())
	}
	p, err := cfg.Roles.Parser()
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	if !p.RequireNamespace || p.Permissions["write"] != auth.OpInsert {
		t.Fatalf("role parser = %+v", p)
	}
	g, _ := p.Parse([]string{"sales.orders.write"})
	if g.Allows("sales", "orders", auth.OpInsert) {
		t.Fatalf("bare role accepted by default: %+v", g)
	}
}

func TestRolesConfig_BareRolesAndMergedPermissions(t *testing.T) {
	setIdPEnv(t)
	t.Setenv("HDBAUTH_ROLE_REQUIRE_NAMESPACE", "false")
	t.Setenv("HDBAUTH_ROLE_PERMISSIONS", "edit=update")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	p, err := cfg.Roles.Parser()
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	g, malformed := p.Parse([]string{"sales.orders.write", "hdb.sales.orders.read", "sales.orders.edit"})
	if len(malformed) != 0 {
		t.Fatalf("malformed = %+v", malformed)
	}
	for _, op := range []auth.Operation{auth.OpRead, auth.OpInsert, auth.OpUpdate} {
		if !g.Allows("sales", "orders", op) {
			t.Fatalf("%s not granted: %+v", op, g)
		}
	}
	if g.Allows("sales", "orders", auth.OpDelete) {
		t.Fatalf("delete granted: %+v", g)
	}
}

func TestLoadFromEnv_MissingIdPValues(t *testing.T) {
	t.Setenv("HDBAUTH_AAD_CONFIG_FILE", "-")
	t.Setenv("AAD_CLIENT_ID", "client")
	t.Setenv("AAD_AUTH_URL", "")
	t.Setenv("AAD_CLIENT_SECRET", "")
	t.Setenv("AAD_REDIRECT_URI", "https://app.example.com/redirect")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"AAD_AUTH_URL", "AAD_CLIENT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not name %s", err, want)
		}
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setIdPEnv(t)
	t.Setenv("HDBAUTH_DB_DRIVER", "Redis")
	t.Setenv("HDBAUTH_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("HDBAUTH_REDIS_DB", "2")
	t.Setenv("HDBAUTH_SESSION_KEY_SCHEME", "hashed_token_only")
	t.Setenv("HDBAUTH_VERIFIER_SCHEME", "fast_digest")
	t.Setenv("HDBAUTH_SESSION_TTL", "12h")
	t.Setenv("HDBAUTH_IDP_SCOPES", "user.read, offline_access")
	t.Setenv("HDBAUTH_ROLE_PERMISSIONS", "read=read,write=insert,edit=update,remove=delete")
	t.Setenv("HDBAUTH_ROLE_REQUIRE_NAMESPACE", "false")
	t.Setenv("HDBAUTH_AUTO_SETUP", "true")
	t.Setenv("HDBAUTH_TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 127.0.0.1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.DB.Driver != "redis" || cfg.DB.RedisDB != 2 {
		t.Fatalf("db = %+v", cfg.DB)
	}
	if cfg.Session.TTL != 12*time.Hour || !cfg.Session.AutoSetup {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if got := cfg.TrustedProxies(); len(got) != 2 {
		t.Fatalf("trusted proxies = %v", got)
	}
	if len(cfg.IdP.Scopes) != 2 || cfg.IdP.Scopes[1] != "offline_access" {
		t.Fatalf("scopes = %v", cfg.IdP.Scopes)
	}
	p, err := cfg.Roles.Parser()
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	if p.RequireNamespace || p.Permissions["remove"] != auth.OpDelete {
		t.Fatalf("role parser = %+v", p)
	}
}

func TestLoadFromEnv_RejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		sub  string
	}{
		{"hashed with bcrypt", map[string]string{"HDBAUTH_SESSION_KEY_SCHEME": "hashed_token_only"}, "hashed_token_only"},
		{"unknown verifier", map[string]string{"HDBAUTH_VERIFIER_SCHEME": "md5"}, "md5"},
		{"mysql without dsn", map[string]string{"HDBAUTH_DB_DRIVER": "mysql"}, "db.dsn"},
		{"redis without addr", map[string]string{"HDBAUTH_DB_DRIVER": "redis"}, "HDBAUTH_REDIS_ADDR"},
		{"bad permissions", map[string]string{"HDBAUTH_ROLE_PERMISSIONS": "read=select"}, "HDBAUTH_ROLE_PERMISSIONS"},
		{"bad driver", map[string]string{"HDBAUTH_DB_DRIVER": "postgres"}, "postgres"},
		{"bad proxy cidr", map[string]string{"HDBAUTH_TRUSTED_PROXY_CIDRS": "10.0.0.0/8,nope"}, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setIdPEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.sub) {
				t.Fatalf("err = %v, want contains %q", err, tc.sub)
			}
		})
	}
}

func TestApplyAADConfigFile(t *testing.T) {
	setIdPEnv(t)
	path := filepath.Join(t.TempDir(), ".aad_config.json")
	body := `{"clientId":"file-client","authority":"https://login.file.example.com","clientSecret":"","redirectUri":"https://file.example.com/redirect"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HDBAUTH_AAD_CONFIG_FILE", path)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.IdP.ClientID != "file-client" || cfg.IdP.Authority != "https://login.file.example.com" {
		t.Fatalf("file values not applied: %+v", cfg.IdP)
	}
	// 文件中为空的值不覆盖环境变量。
	if cfg.IdP.ClientSecret != "secret" {
		t.Fatalf("client secret = %q", cfg.IdP.ClientSecret)
	}

	if err := os.WriteFile(path, []byte(`{"clientId":42}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "clientId") {
		t.Fatalf("non-string clientId err = %v", err)
	}
	if err := os.WriteFile(path, []byte(`not json`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("invalid json accepted")
	}
}

func TestParseTTL(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{"3600": time.Hour, "90m": 90 * time.Minute, "0": 0}
	for in, want := range cases {
		got, ok := parseTTL(in)
		if !ok || got != want {
			t.Fatalf("parseTTL(%q) = %s, %v", in, got, ok)
		}
	}
	if _, ok := parseTTL("soon"); ok {
		t.Fatalf("parseTTL(soon) ok")
	}
}
