package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"hdbauth/internal/config"
	"hdbauth/internal/store"
	"hdbauth/internal/version"
)

type stubProvider struct {
	roles []string
	err   error
}

func (p stubProvider) AcquireTokenByCredentials(context.Context, string, string, []string) ([]string, error) {
	return p.roles, p.err
}

func (p stubProvider) AuthorizationURL(scopes []string, redirectURI string) (string, error) {
	return "https://login.example.com/authorize?scope=" + strings.Join(scopes, "+") + "&redirect_uri=" + redirectURI, nil
}

func (p stubProvider) AcquireTokenByCode(context.Context, string, []string, string) ([]string, error) {
	return p.roles, p.err
}

func testConfig() config.Config {
	return config.Config{
		Env: "test",
		DB:  config.DBConfig{Driver: "memory"},
		IdP: config.IdPConfig{
			ClientID:     "client",
			Authority:    "https://login.example.com/tenant",
			ClientSecret: "secret",
			RedirectURI:  "https://app.example.com/redirect",
			Scopes:       []string{"user.read"},
		},
		Session: config.SessionConfig{
			KeyScheme:      "handle_and_token",
			VerifierScheme: "fast_digest",
			TokenBytes:     12,
			HandleBytes:    6,
			AutoSetup:      true,
		},
		Roles: config.RolesConfig{RequireNamespace: true},
	}
}

func newTestApp(t *testing.T, cfg config.Config, p stubProvider) (*App, store.DocumentStore) {
	t.Helper()

	ds := store.NewMemoryStore()
	ctx := context.Background()
	if err := ds.CreateSchema(ctx, "dev"); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	if err := ds.CreateTable(ctx, "dev", "dog", "id"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := ds.Insert(ctx, "dev", "dog", []json.RawMessage{json.RawMessage(`{"id":"1","name":"Penny"}`)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	app, err := NewApp(ctx, AppOptions{Config: cfg, Store: ds, Provider: p, Version: version.Info()})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app, ds
}

func do(t *testing.T, app *App, method, path, body, credential string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	return w
}

func TestApp_LoginCRUDLogout(t *testing.T) {
	app, ds := newTestApp(t, testConfig(), stubProvider{roles: []string{"hdb.dev.dog.read", "hdb.dev.dog.write", "garbage"}})

	w := do(t, app, http.MethodPost, "/login", `{"username":"alice","password":"pw"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	credential := w.Body.String()
	handle, token, ok := strings.Cut(credential, ".")
	if !ok || len(handle) != 12 || len(token) != 24 {
		t.Fatalf("credential = %q", credential)
	}

	// 会话记录写入 hdb_msal_auth.sessions，存的是摘要而非 token。
	recs, err := ds.SearchByHash(context.Background(), "hdb_msal_auth", "sessions", []string{handle}, nil)
	if err != nil || len(recs) != 1 {
		t.Fatalf("session record = %s, %v", recs, err)
	}
	if strings.Contains(string(recs[0]), token) {
		t.Fatalf("raw token stored: %s", recs[0])
	}

	w = do(t, app, http.MethodGet, "/dev/dog/1", "", credential)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "0.name").String() != "Penny" {
		t.Fatalf("GET = %d %s", w.Code, w.Body.String())
	}
	w = do(t, app, http.MethodPost, "/dev/dog", `{"id":"2","name":"Kato"}`, credential)
	if w.Code != http.StatusOK {
		t.Fatalf("POST = %d %s", w.Code, w.Body.String())
	}
	w = do(t, app, http.MethodDelete, "/dev/dog/2", "", credential)
	if w.Code != http.StatusForbidden {
		t.Fatalf("DELETE without grant = %d", w.Code)
	}
	w = do(t, app, http.MethodGet, "/dev/dog/1", "", handle+".wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", w.Code)
	}

	w = do(t, app, http.MethodGet, "/logout", "", credential)
	if w.Code != http.StatusOK || w.Body.String() != "Logout Successful" {
		t.Fatalf("logout = %d %q", w.Code, w.Body.String())
	}
	w = do(t, app, http.MethodGet, "/logout", "", credential)
	if w.Code != http.StatusOK {
		t.Fatalf("second logout = %d", w.Code)
	}
	w = do(t, app, http.MethodGet, "/dev/dog/1", "", credential)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("after logout = %d", w.Code)
	}
}

func TestApp_HashedTokenOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Session.KeyScheme = "hashed_token_only"
	cfg.Session.DigestKey = "pepper"
	app, _ := newTestApp(t, cfg, stubProvider{roles: []string{"hdb.super_user"}})

	w := do(t, app, http.MethodGet, "/redirect?code=abc", "", "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), ".") {
		t.Fatalf("redirect = %d %q", w.Code, w.Body.String())
	}
	token := w.Body.String()

	w = do(t, app, http.MethodGet, "/dev/dog", "", token)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "#").Int() != 1 {
		t.Fatalf("super user GET all = %d %s", w.Code, w.Body.String())
	}
	w = do(t, app, http.MethodGet, "/hdb_msal_auth/sessions", "", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("session schema = %d", w.Code)
	}
}

func TestApp_ProviderFailureAndRedirect(t *testing.T) {
	app, ds := newTestApp(t, testConfig(), stubProvider{err: errors.New("invalid_grant: AADSTS secret")})

	w := do(t, app, http.MethodPost, "/login", `{"username":"alice","password":"pw"}`, "")
	if w.Code != http.StatusBadGateway || strings.Contains(w.Body.String(), "AADSTS") {
		t.Fatalf("login = %d %q", w.Code, w.Body.String())
	}
	recs, err := ds.SearchByValue(context.Background(), "hdb_msal_auth", "sessions", "user", "*", nil)
	if err != nil || len(recs) != 0 {
		t.Fatalf("session created on failure: %s, %v", recs, err)
	}

	w = do(t, app, http.MethodGet, "/login", "", "")
	if w.Code != http.StatusFound || !strings.Contains(w.Header().Get("Location"), "redirect_uri=https://app.example.com/redirect") {
		t.Fatalf("GET /login = %d %q", w.Code, w.Header().Get("Location"))
	}

	w = do(t, app, http.MethodGet, "/setup", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("setup after auto setup = %d %s", w.Code, w.Body.String())
	}
}

func TestApp_Healthz(t *testing.T) {
	app, _ := newTestApp(t, testConfig(), stubProvider{})

	w := do(t, app, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if !gjson.Get(w.Body.String(), "store_ok").Bool() || gjson.Get(w.Body.String(), "driver").String() != "memory" {
		t.Fatalf("healthz body = %s", w.Body.String())
	}
}

func TestNewApp_RejectsMissingStore(t *testing.T) {
	if _, err := NewApp(context.Background(), AppOptions{Config: testConfig()}); err == nil {
		t.Fatalf("expected error")
	}
}
