package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"hdbauth/internal/auth"
	"hdbauth/internal/crud"
	"hdbauth/internal/store"
)

type fakeFlow struct {
	mu         sync.Mutex
	loginUser  string
	loginPass  string
	loginErr   error
	code       string
	logoutCred string
	logoutErr  error
	setupCalls int
}

func (f *fakeFlow) Setup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCalls++
	return nil
}

func (f *fakeFlow) Login(_ context.Context, username, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginUser, f.loginPass = username, secret
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "abc.def", nil
}

func (f *fakeFlow) AuthorizationURL(context.Context) (string, error) {
	return "https://login.example.com/authorize?client_id=x", nil
}

func (f *fakeFlow) CompleteRedirect(_ context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = code
	return "h.t", nil
}

func (f *fakeFlow) Logout(_ context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCred = credential
	return f.logoutErr
}

// tokenValidator 把固定凭据映射到授权。
type tokenValidator map[string]auth.Grant

func (v tokenValidator) Validate(_ context.Context, credential string) (auth.Principal, error) {
	g, ok := v[credential]
	if !ok {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	return auth.Principal{Handle: "h", Grant: g}, nil
}

func newTestEngine(t *testing.T, flow AuthFlow) *gin.Engine {
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

	reader := auth.Grant{Schemas: map[string]map[string]auth.TablePermission{
		"dev": {"dog": {Read: true}},
	}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetRouter(r, Options{
		Auth:         flow,
		Validator:    tokenValidator{"reader": reader, "root": {SuperUser: true}},
		CRUD:         crud.NewExecutor(ds, "hdb_msal_auth"),
		MaxBodyBytes: 1 << 10,
		DebugVars:    true,
		Healthz: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRoutes(t *testing.T) {
	flow := &fakeFlow{}
	r := newTestEngine(t, flow)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/setup", nil))
	if w.Code != http.StatusOK || w.Body.String() != setupMessage || flow.setupCalls != 1 {
		t.Fatalf("setup = %d %q", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/login", nil))
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "https://login.example.com/") {
		t.Fatalf("GET /login = %d location=%q", w.Code, w.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":" alice ","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	if w.Code != http.StatusOK || w.Body.String() != "abc.def" {
		t.Fatalf("POST /login json = %d %q", w.Code, w.Body.String())
	}
	if flow.loginUser != "alice" || flow.loginPass != "pw" {
		t.Fatalf("login got %q/%q", flow.loginUser, flow.loginPass)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type = %q", ct)
	}

	form := url.Values{"username": {"bob"}, "password": {"secret"}}
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = serve(r, req)
	if w.Code != http.StatusOK || flow.loginUser != "bob" {
		t.Fatalf("POST /login form = %d user=%q", w.Code, flow.loginUser)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/redirect?code=xyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "h.t" || flow.code != "xyz" {
		t.Fatalf("redirect = %d %q code=%q", w.Code, w.Body.String(), flow.code)
	}

	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	w = serve(r, req)
	if w.Code != http.StatusOK || w.Body.String() != logoutMessage || flow.logoutCred != "abc.def" {
		t.Fatalf("logout = %d %q cred=%q", w.Code, w.Body.String(), flow.logoutCred)
	}
}

func TestAuthRoutes_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"unauthorized", auth.ErrUnauthorized, http.StatusUnauthorized, "HDB Token Error"},
		{"provider", auth.Wrap(auth.KindProvider, errors.New("AADSTS50126: secret detail")), http.StatusBadGateway, "Identity Provider Error"},
		{"store", auth.Wrap(auth.KindStoreUnavailable, errors.New("dial tcp")), http.StatusInternalServerError, "Session Store Unavailable"},
	}
	for _, tc := range cases {
		flow := &fakeFlow{loginErr: tc.err}
		r := newTestEngine(t, flow)
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"b"}`))
		req.Header.Set("Content-Type", "application/json")
		w := serve(r, req)
		if w.Code != tc.status || w.Body.String() != tc.body {
			t.Fatalf("%s: got %d %q", tc.name, w.Code, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "AADSTS") {
			t.Fatalf("%s: provider detail leaked", tc.name)
		}
	}

	flow := &fakeFlow{logoutErr: auth.Wrap(auth.KindStoreUnavailable, errors.New("down"))}
	r := newTestEngine(t, flow)
	w := serve(r, httptest.NewRequest(http.MethodGet, "/logout", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("logout store failure = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(newTestEngine(t, &fakeFlow{}), req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad body = %d", w.Code)
	}
}

func TestCRUDRoutes_Gatekeeper(t *testing.T) {
	r := newTestEngine(t, &fakeFlow{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/dev/dog/1", nil))
	if w.Code != http.StatusUnauthorized || w.Body.String() != "HDB Token Error\n" {
		t.Fatalf("no credential = %d %q", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/dev/dog/1", nil)
	req.Header.Set("Authorization", "Bearer reader")
	w = serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reader GET = %d %s", w.Code, w.Body.String())
	}
	if gjson.Get(w.Body.String(), "0.name").String() != "Penny" {
		t.Fatalf("body = %s", w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/dev/dog?access_token=reader", nil))
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "#").Int() != 1 {
		t.Fatalf("reader GET all = %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/dev/dog", strings.NewReader(`{"name":"Kato"}`))
	req.Header.Set("Authorization", "reader")
	w = serve(r, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("reader POST = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/hdb_msal_auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer root")
	w = serve(r, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("session schema = %d", w.Code)
	}
}

func TestCRUDRoutes_Writes(t *testing.T) {
	r := newTestEngine(t, &fakeFlow{})
	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer root")
		req.Header.Set("Content-Type", "application/json")
		return serve(r, req)
	}

	w := do(http.MethodPost, "/dev/dog", `{"id":"2","name":"Kato"}`)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "inserted_hashes.0").String() != "2" {
		t.Fatalf("POST = %d %s", w.Code, w.Body.String())
	}
	w = do(http.MethodPatch, "/dev/dog/2", `{"age":4}`)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "update_hashes.0").String() != "2" {
		t.Fatalf("PATCH = %d %s", w.Code, w.Body.String())
	}
	w = do(http.MethodPut, "/dev/dog/3", `{"name":"Harper"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT = %d %s", w.Code, w.Body.String())
	}
	w = do(http.MethodDelete, "/dev/dog/3", ``)
	if w.Code != http.StatusOK || gjson.Get(w.Body.String(), "deleted_hashes.0").String() != "3" {
		t.Fatalf("DELETE = %d %s", w.Code, w.Body.String())
	}
	w = do(http.MethodPost, "/dev/dog", `[1]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad POST = %d", w.Code)
	}
	w = do(http.MethodPost, "/dev/dog", `{"id":"x","pad":"`+strings.Repeat("a", 2048)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized POST = %d", w.Code)
	}
	w = do(http.MethodGet, "/dev/cat", ``)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing table = %d", w.Code)
	}
}

func TestSystemRoutes(t *testing.T) {
	r := newTestEngine(t, &fakeFlow{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	req.Header.Set("Authorization", "Bearer reader")
	if w := serve(r, req); w.Code != http.StatusForbidden {
		t.Fatalf("debug vars as reader = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	req.Header.Set("Authorization", "Bearer root")
	w = serve(r, req)
	if w.Code != http.StatusOK || !gjson.Valid(w.Body.String()) {
		t.Fatalf("debug vars as root = %d", w.Code)
	}
}
