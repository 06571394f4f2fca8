// Package config 负责读取并校验网关配置：环境变量为主，身份提供方参数可来自 ~/.aad_config.json。
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"hdbauth/internal/auth"
	"hdbauth/internal/crypto"
	"hdbauth/internal/idp"
	"hdbauth/internal/security"
	"hdbauth/internal/session"
	"hdbauth/internal/store"
)

type Config struct {
	Env     string
	Server  ServerConfig
	DB      DBConfig
	IdP     IdPConfig
	Session SessionConfig
	Roles   RolesConfig
}

type ServerConfig struct {
	Addr string

	ReadHeaderTimeoutSeconds int
	ReadTimeoutSeconds       int
	IdleTimeoutSeconds       int
	MaxHeaderBytes           int

	// 单请求超时与请求体上限；<= 0 表示不限制。
	RequestTimeoutSeconds int
	MaxBodyBytes          int64

	DebugVars bool

	// TrustedProxyCIDRs 命中时才信任 X-Forwarded-For。
	TrustedProxyCIDRs []string
}

type DBConfig struct {
	// Driver 支持 sqlite/mysql/redis/memory；为空时 dsn 非空推断为 mysql，否则 sqlite。
	Driver     string
	DSN        string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// IdPConfig 的前四项缺一不可。
type IdPConfig struct {
	ClientID     string
	Authority    string
	ClientSecret string
	RedirectURI  string

	// ConfigFile 为 aad 配置文件路径；文件存在时覆盖上面四项中它给出的值。
	ConfigFile string

	Scopes         []string
	RoleClaim      string
	TimeoutSeconds int
}

type SessionConfig struct {
	KeyScheme      string
	VerifierScheme string
	BcryptCost     int
	DigestKey      string

	TokenBytes  int
	HandleBytes int
	// TTL 为 0 表示不过期。
	TTL time.Duration

	AutoSetup bool
}

type RolesConfig struct {
	RequireNamespace bool
	// Permissions 为 "read=read,write=insert" 形式的映射；为空使用默认值。
	Permissions string
	DebugLog    bool
}

// LoadFromEnv 从环境变量与 aad 配置文件加载配置。
func LoadFromEnv() (Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	if err := applyAADConfigFile(&cfg); err != nil {
		return Config{}, err
	}
	return normalizeAndValidate(cfg)
}

func defaultConfig() Config {
	return Config{
		Env: "dev",
		Server: ServerConfig{
			Addr: ":8080",

			ReadHeaderTimeoutSeconds: 5,
			ReadTimeoutSeconds:       30,
			IdleTimeoutSeconds:       120,
			MaxHeaderBytes:           1 << 20,

			RequestTimeoutSeconds: 30,
			MaxBodyBytes:          1 << 20, // 1MB
		},
		DB: DBConfig{
			SQLitePath:  "./data/hdbauth.db?_busy_timeout=30000",
			RedisPrefix: store.DefaultRedisPrefix,
		},
		IdP: IdPConfig{
			ConfigFile:     defaultAADConfigFile(),
			Scopes:         idp.DefaultScopes(),
			RoleClaim:      idp.DefaultRoleClaim,
			TimeoutSeconds: int(idp.DefaultTimeout / time.Second),
		},
		Session: SessionConfig{
			KeyScheme:      string(session.KeyHandleAndToken),
			VerifierScheme: string(crypto.VerifierAdaptiveSaltedHash),
			BcryptCost:     crypto.DefaultBcryptCost,
			TokenBytes:     crypto.DefaultTokenBytes,
			HandleBytes:    crypto.DefaultHandleBytes,
		},
		// 默认只认 hdb. 前缀的 role，与现有部署一致；
		// 裸 schema.table.write 形式需设 HDBAUTH_ROLE_REQUIRE_NAMESPACE=false。
		Roles: RolesConfig{RequireNamespace: true},
	}
}

func normalizeAndValidate(cfg Config) (Config, error) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return Config{}, errors.New("server.addr 不能为空")
	}

	if _, err := security.ParseTrustedProxies(cfg.Server.TrustedProxyCIDRs); err != nil {
		return Config{}, err
	}
	if err := normalizeDB(&cfg.DB); err != nil {
		return Config{}, err
	}
	if err := normalizeIdP(&cfg.IdP); err != nil {
		return Config{}, err
	}
	if err := validateSession(cfg.Session); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Roles.Parser(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeDB(db *DBConfig) error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	db.DSN = strings.TrimSpace(db.DSN)
	db.SQLitePath = strings.TrimSpace(db.SQLitePath)
	db.RedisAddr = strings.TrimSpace(db.RedisAddr)

	if db.Driver == "" {
		if db.DSN != "" {
			db.Driver = string(store.DriverMySQL)
		} else {
			db.Driver = string(store.DriverSQLite)
		}
	}
	switch store.Driver(db.Driver) {
	case store.DriverSQLite:
		if db.SQLitePath == "" {
			db.SQLitePath = "./data/hdbauth.db?_busy_timeout=30000"
		}
	case store.DriverMySQL:
		if db.DSN == "" {
			return errors.New("db.dsn 不能为空（db.driver=mysql）")
		}
	case store.DriverRedis:
		if db.RedisAddr == "" {
			return errors.New("HDBAUTH_REDIS_ADDR 不能为空（db.driver=redis）")
		}
		if db.RedisDB < 0 {
			return fmt.Errorf("HDBAUTH_REDIS_DB 不合法: %d", db.RedisDB)
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("db.driver 不支持：%s（仅支持 sqlite/mysql/redis/memory）", db.Driver)
	}
	return nil
}

// normalizeIdP 要求四项身份提供方参数齐全，缺失时列出全部缺项。
func normalizeIdP(c *IdPConfig) error {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.RedirectURI = strings.TrimSpace(c.RedirectURI)
	c.Authority = strings.TrimRight(strings.TrimSpace(c.Authority), "/")

	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "AAD_CLIENT_ID")
	}
	if c.Authority == "" {
		missing = append(missing, "AAD_AUTH_URL")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "AAD_CLIENT_SECRET")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "AAD_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少身份提供方配置: %s", strings.Join(missing, ", "))
	}

	if _, err := NormalizeHTTPBaseURL(c.Authority, "AAD_AUTH_URL"); err != nil {
		return err
	}
	if _, err := NormalizeHTTPBaseURL(c.RedirectURI, "AAD_REDIRECT_URI"); err != nil {
		return err
	}
	if len(c.Scopes) == 0 {
		c.Scopes = idp.DefaultScopes()
	}
	c.RoleClaim = strings.TrimSpace(c.RoleClaim)
	if c.RoleClaim == "" {
		c.RoleClaim = idp.DefaultRoleClaim
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(idp.DefaultTimeout / time.Second)
	}
	return nil
}

func validateSession(s SessionConfig) error {
	keyScheme, err := session.ParseKeyScheme(s.KeyScheme)
	if err != nil {
		return err
	}
	verifierScheme, err := crypto.ParseVerifierScheme(s.VerifierScheme)
	if err != nil {
		return err
	}
	// 摘要作为查找键时必须可重复计算。
	if keyScheme == session.KeyHashedTokenOnly && verifierScheme == crypto.VerifierAdaptiveSaltedHash {
		return errors.New("hashed_token_only 不能与 adaptive_salted_hash 同时使用，请改用 fast_digest")
	}
	if s.TokenBytes < 8 {
		return fmt.Errorf("HDBAUTH_TOKEN_BYTES 过小: %d", s.TokenBytes)
	}
	if s.HandleBytes < 4 {
		return fmt.Errorf("HDBAUTH_HANDLE_BYTES 过小: %d", s.HandleBytes)
	}
	if s.TTL < 0 {
		return fmt.Errorf("HDBAUTH_SESSION_TTL 不能为负数: %s", s.TTL)
	}
	if _, err := crypto.NewVerifier(verifierScheme, s.BcryptCost, []byte(s.DigestKey)); err != nil {
		return err
	}
	return nil
}

// Parser 按配置构建 role 解析器。HDBAUTH_ROLE_PERMISSIONS 在默认映射
// （read=read,write=insert）之上追加或覆盖，不会删掉未提到的词。
func (r RolesConfig) Parser() (auth.RoleParser, error) {
	p := auth.DefaultRoleParser()
	p.RequireNamespace = r.RequireNamespace
	if strings.TrimSpace(r.Permissions) != "" {
		perms, err := auth.ParsePermissionMap(r.Permissions)
		if err != nil {
			return auth.RoleParser{}, fmt.Errorf("HDBAUTH_ROLE_PERMISSIONS 不合法: %w", err)
		}
		for word, op := range perms {
			p.Permissions[word] = op
		}
	}
	return p, nil
}

// TrustedProxies 假定配置已通过校验。
func (c Config) TrustedProxies() []netip.Prefix {
	out, _ := security.ParseTrustedProxies(c.Server.TrustedProxyCIDRs)
	return out
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c IdPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func NormalizeHTTPBaseURL(raw string, label string) (string, error) {
	v := strings.TrimRight(strings.TrimSpace(raw), "/")
	if v == "" {
		return "", nil
	}
	u, err := url.Parse(v)
	if err != nil {
		if strings.TrimSpace(label) == "" {
			return "", fmt.Errorf("解析 base_url 失败: %w", err)
		}
		return "", fmt.Errorf("解析 %s 失败: %w", label, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		if strings.TrimSpace(label) == "" {
			return "", errors.New("base_url 仅支持 http/https")
		}
		return "", fmt.Errorf("%s 仅支持 http/https", label)
	}
	if u.Host == "" {
		if strings.TrimSpace(label) == "" {
			return "", errors.New("base_url host 不能为空")
		}
		return "", fmt.Errorf("%s host 不能为空", label)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
