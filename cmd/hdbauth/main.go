// hdbauth 是文档存储前的鉴权网关：通过身份提供方登录签发会话凭据，并按会话中的 role 为 CRUD 请求授权。
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hdbauth/internal/config"
	"hdbauth/internal/obs"
	"hdbauth/internal/server"
	"hdbauth/internal/store"
	"hdbauth/internal/version"
)

func main() {
	envFile, err := config.LoadDotEnv()
	if err != nil {
		slog.Error("加载 .env 失败", "err", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("加载配置失败", "err", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	if envFile != "" {
		slog.Debug("已加载 .env", "path", envFile)
	}

	ctx := context.Background()
	ds, closeStore, err := store.Open(ctx, store.OpenOptions{
		Env:           cfg.Env,
		Driver:        store.Driver(cfg.DB.Driver),
		MySQLDSN:      cfg.DB.DSN,
		SQLitePath:    cfg.DB.SQLitePath,
		RedisAddr:     cfg.DB.RedisAddr,
		RedisPassword: cfg.DB.RedisPassword,
		RedisDB:       cfg.DB.RedisDB,
		RedisPrefix:   cfg.DB.RedisPrefix,
	})
	if err != nil {
		slog.Error("连接存储失败", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	app, err := server.NewApp(ctx, server.AppOptions{
		Config:  cfg,
		Store:   ds,
		Version: version.Info(),
	})
	if err != nil {
		slog.Error("初始化服务失败", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		slog.Error("HTTP 服务监听启动失败", "addr", cfg.Server.Addr, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("服务启动", "addr", ln.Addr().String(), "version", version.Info().Version, "driver", cfg.DB.Driver, "key_scheme", cfg.Session.KeyScheme)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		slog.Error("HTTP 服务异常退出", "err", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("优雅停机失败", "err", err)
		_ = httpServer.Close()
	}
	slog.Info("服务已退出")
}
