package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func applyEnvOverrides(cfg *Config) {
	applyServerEnvOverrides(cfg)
	applyDBEnvOverrides(cfg)
	applyIdPEnvOverrides(cfg)
	applySessionEnvOverrides(cfg)
	applyRolesEnvOverrides(cfg)
}

func applyServerEnvOverrides(cfg *Config) {
	if v := os.Getenv("HDBAUTH_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("HDBAUTH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HDBAUTH_SERVER_READ_HEADER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.ReadHeaderTimeoutSeconds = n
		}
	}
	if v := os.Getenv("HDBAUTH_SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.ReadTimeoutSeconds = n
		}
	}
	if v := os.Getenv("HDBAUTH_SERVER_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.IdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("HDBAUTH_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("HDBAUTH_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("HDBAUTH_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.Server.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("HDBAUTH_DEBUG_VARS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.DebugVars = b
		}
	}
}

func applyDBEnvOverrides(cfg *Config) {
	if v := os.Getenv("HDBAUTH_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("HDBAUTH_DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("HDBAUTH_SQLITE_PATH"); v != "" {
		cfg.DB.SQLitePath = v
	}
	if v := os.Getenv("HDBAUTH_REDIS_ADDR"); v != "" {
		cfg.DB.RedisAddr = v
	}
	if v := os.Getenv("HDBAUTH_REDIS_PASSWORD"); v != "" {
		cfg.DB.RedisPassword = v
	}
	if v := os.Getenv("HDBAUTH_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DB.RedisDB = n
		}
	}
	if v := os.Getenv("HDBAUTH_REDIS_PREFIX"); v != "" {
		cfg.DB.RedisPrefix = v
	}
}

func applyIdPEnvOverrides(cfg *Config) {
	if v := os.Getenv("AAD_CLIENT_ID"); v != "" {
		cfg.IdP.ClientID = v
	}
	if v := os.Getenv("AAD_AUTH_URL"); v != "" {
		cfg.IdP.Authority = v
	}
	if v := os.Getenv("AAD_CLIENT_SECRET"); v != "" {
		cfg.IdP.ClientSecret = v
	}
	if v := os.Getenv("AAD_REDIRECT_URI"); v != "" {
		cfg.IdP.RedirectURI = v
	}
	// 设为 "-" 可禁用配置文件。
	if v, ok := os.LookupEnv("HDBAUTH_AAD_CONFIG_FILE"); ok {
		cfg.IdP.ConfigFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("HDBAUTH_IDP_SCOPES"); v != "" {
		cfg.IdP.Scopes = splitScopes(v)
	}
	if v := os.Getenv("HDBAUTH_IDP_ROLE_CLAIM"); v != "" {
		cfg.IdP.RoleClaim = v
	}
	if v := os.Getenv("HDBAUTH_IDP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IdP.TimeoutSeconds = n
		}
	}
}

func applySessionEnvOverrides(cfg *Config) {
	if v := os.Getenv("HDBAUTH_SESSION_KEY_SCHEME"); v != "" {
		cfg.Session.KeyScheme = v
	}
	if v := os.Getenv("HDBAUTH_VERIFIER_SCHEME"); v != "" {
		cfg.Session.VerifierScheme = v
	}
	if v := os.Getenv("HDBAUTH_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.BcryptCost = n
		}
	}
	if v := os.Getenv("HDBAUTH_DIGEST_KEY"); v != "" {
		cfg.Session.DigestKey = v
	}
	if v := os.Getenv("HDBAUTH_TOKEN_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.TokenBytes = n
		}
	}
	if v := os.Getenv("HDBAUTH_HANDLE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.HandleBytes = n
		}
	}
	if v := os.Getenv("HDBAUTH_SESSION_TTL"); v != "" {
		if d, ok := parseTTL(v); ok {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("HDBAUTH_AUTO_SETUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Session.AutoSetup = b
		}
	}
}

func applyRolesEnvOverrides(cfg *Config) {
	if v := os.Getenv("HDBAUTH_ROLE_REQUIRE_NAMESPACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Roles.RequireNamespace = b
		}
	}
	if v := os.Getenv("HDBAUTH_ROLE_PERMISSIONS"); v != "" {
		cfg.Roles.Permissions = v
	}
	if v := os.Getenv("HDBAUTH_DEBUG_LOG_ROLES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Roles.DebugLog = b
		}
	}
}

// parseTTL 接受 Go duration（"12h"）或整数秒。
func parseTTL(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

// splitScopes 同时接受逗号与空格分隔。
func splitScopes(raw string) []string {
	return splitCSV(strings.Join(strings.Fields(raw), ","))
}
