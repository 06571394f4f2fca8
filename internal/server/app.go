// Package server 组装依赖、中间件与路由，使 main 保持简单可读。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hdbauth/internal/config"
	"hdbauth/internal/crud"
	"hdbauth/internal/crypto"
	"hdbauth/internal/idp"
	"hdbauth/internal/session"
	"hdbauth/internal/store"
	"hdbauth/internal/version"
	"hdbauth/router"
)

type AppOptions struct {
	Config  config.Config
	Store   store.DocumentStore
	Version version.BuildInfo

	// Provider 为空时按 Config.IdP 构建 OAuth2 客户端。
	Provider idp.Provider
}

type App struct {
	cfg      config.Config
	store    store.DocumentStore
	sessions *session.Service
	version  version.BuildInfo
	engine   *gin.Engine
}

func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("store 不能为空")
	}
	cfg := opts.Config

	svc, err := newSessionService(cfg, opts.Store, opts.Provider)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:      cfg,
		store:    opts.Store,
		sessions: svc,
		version:  opts.Version,
	}
	if err := app.bootstrap(ctx); err != nil {
		return nil, err
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	router.SetRouter(engine, router.Options{
		Auth:      svc,
		Validator: svc,
		// 会话 schema 不经 CRUD 暴露，super_user 也不例外。
		CRUD: crud.NewExecutor(opts.Store, session.SchemaName),

		RequestTimeout: cfg.RequestTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		TrustedProxies: cfg.TrustedProxies(),
		DebugVars:      cfg.Server.DebugVars,

		Healthz: app.handleHealthz,
	})
	app.engine = engine
	return app, nil
}

func newSessionService(cfg config.Config, ds store.DocumentStore, provider idp.Provider) (*session.Service, error) {
	keyScheme, err := session.ParseKeyScheme(cfg.Session.KeyScheme)
	if err != nil {
		return nil, err
	}
	verifierScheme, err := crypto.ParseVerifierScheme(cfg.Session.VerifierScheme)
	if err != nil {
		return nil, err
	}
	verifier, err := crypto.NewVerifier(verifierScheme, cfg.Session.BcryptCost, []byte(cfg.Session.DigestKey))
	if err != nil {
		return nil, err
	}
	roles, err := cfg.Roles.Parser()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		provider = idp.NewClient(idp.Config{
			ClientID:     cfg.IdP.ClientID,
			ClientSecret: cfg.IdP.ClientSecret,
			Authority:    cfg.IdP.Authority,
			RedirectURI:  cfg.IdP.RedirectURI,
			Scopes:       cfg.IdP.Scopes,
			RoleClaim:    cfg.IdP.RoleClaim,
			Timeout:      cfg.IdP.Timeout(),
		})
	}
	return session.NewService(session.NewSessions(ds, keyScheme), provider, session.Options{
		KeyScheme:   keyScheme,
		Verifier:    verifier,
		TokenBytes:  cfg.Session.TokenBytes,
		HandleBytes: cfg.Session.HandleBytes,
		TTL:         cfg.Session.TTL,
		Roles:       roles,
		Scopes:      cfg.IdP.Scopes,
		RedirectURI: cfg.IdP.RedirectURI,
		LogRoles:    cfg.Roles.DebugLog,
	})
}

// bootstrap 在启用 AutoSetup 时预先创建会话 schema 与表；否则依赖 /setup。
func (a *App) bootstrap(ctx context.Context) error {
	if !a.cfg.Session.AutoSetup {
		return nil
	}
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.sessions.Setup(setupCtx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "会话表已就绪", "schema", session.SchemaName, "table", session.TableName)
	return nil
}

func (a *App) Handler() http.Handler {
	return a.engine
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		OK      bool   `json:"ok"`
		Env     string `json:"env"`
		Version string `json:"version"`
		Date    string `json:"date"`

		StoreOK bool   `json:"store_ok"`
		Driver  string `json:"driver"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	storeOK := a.store.Ping(ctx) == nil

	out := resp{
		OK:      storeOK,
		Env:     a.cfg.Env,
		Version: a.version.Version,
		Date:    a.version.Date,
		StoreOK: storeOK,
		Driver:  a.cfg.DB.Driver,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if !storeOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(out)
}
