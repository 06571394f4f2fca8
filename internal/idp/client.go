package idp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Provider 是身份提供方协作方；返回的 role 列表已经过提供方校验。
type Provider interface {
	AcquireTokenByCredentials(ctx context.Context, username, secret string, scopes []string) ([]string, error)
	AuthorizationURL(scopes []string, redirectURI string) (string, error)
	AcquireTokenByCode(ctx context.Context, code string, scopes []string, redirectURI string) ([]string, error)
}

type Client struct {
	cfg  Config
	http *http.Client
}

var _ Provider = (*Client)(nil)

func cloneDefaultTransport() *http.Transport {
	if t, ok := http.DefaultTransport.(*http.Transport); ok && t != nil {
		return t.Clone()
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: cloneDefaultTransport(),
			Timeout:   timeout,
		},
	}
}

// SetHTTPClient 仅用于测试替换传输层。
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

func (c *Client) oauthConfig(scopes []string, redirectURI string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}
	if strings.TrimSpace(redirectURI) == "" {
		redirectURI = c.cfg.RedirectURI
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.authorizeURL(),
			TokenURL:  c.cfg.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      requestScopes(scopes),
	}
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// AcquireTokenByCredentials 走 ROPC（password grant）。
func (c *Client) AcquireTokenByCredentials(ctx context.Context, username, secret string, scopes []string) ([]string, error) {
	tok, err := c.oauthConfig(scopes, "").PasswordCredentialsToken(c.withHTTPClient(ctx), username, secret)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", classifyTokenError(err))
	}
	return c.rolesFromToken(tok)
}

// AuthorizationURL 构造授权码流程的跳转地址；本地不保存任何状态。
func (c *Client) AuthorizationURL(scopes []string, redirectURI string) (string, error) {
	if strings.TrimSpace(c.cfg.Authority) == "" {
		return "", errors.New("authority 未配置")
	}
	return c.oauthConfig(scopes, redirectURI).AuthCodeURL(""), nil
}

func (c *Client) AcquireTokenByCode(ctx context.Context, code string, scopes []string, redirectURI string) ([]string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	tok, err := c.oauthConfig(scopes, redirectURI).Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", classifyTokenError(err))
	}
	return c.rolesFromToken(tok)
}

func (c *Client) rolesFromToken(tok *oauth2.Token) ([]string, error) {
	raw, _ := tok.Extra("id_token").(string)
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingIDToken
	}
	return rolesFromIDToken(raw, c.cfg.roleClaim())
}
