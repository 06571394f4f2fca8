package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

type tokenServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	lastReq url.Values
}

func (ts *tokenServer) form(k string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastReq.Get(k)
}

func newTokenServer(t *testing.T, status int, body map[string]any) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenant"+tokenPath {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		ts.mu.Lock()
		ts.lastReq = r.PostForm
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tokenServer) client() *Client {
	return NewClient(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Authority:    ts.srv.URL + "/tenant/",
		RedirectURI:  "https://gw.example.com/redirect",
		Scopes:       DefaultScopes(),
		Timeout:      2 * time.Second,
	})
}

func TestAcquireTokenByCredentials_ReturnsRoles(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     signIDToken(t, jwt.MapClaims{"sub": "u1", "roles": []string{"hdb.super_user", "hdb.sales.orders.read"}}),
	})

	roles, err := ts.client().AcquireTokenByCredentials(context.Background(), "alice@example.com", "pw", nil)
	if err != nil {
		t.Fatalf("AcquireTokenByCredentials: %v", err)
	}
	if want := []string{"hdb.super_user", "hdb.sales.orders.read"}; !reflect.DeepEqual(roles, want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}

	check := func(k, want string) {
		if got := ts.form(k); got != want {
			t.Fatalf("form[%s] = %q, want %q", k, got, want)
		}
	}
	check("grant_type", "password")
	check("username", "alice@example.com")
	check("password", "pw")
	check("client_id", "client-1")
	check("client_secret", "secret-1")
	check("scope", "openid user.read")
}

func TestAcquireTokenByCode(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, http.StatusOK, map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"id_token":     signIDToken(t, jwt.MapClaims{"sub": "u1"}),
	})
	c := ts.client()

	roles, err := c.AcquireTokenByCode(context.Background(), "code-123", nil, "")
	if err != nil {
		t.Fatalf("AcquireTokenByCode: %v", err)
	}
	if roles == nil || len(roles) != 0 {
		t.Fatalf("missing claim must yield empty roles, got %#v", roles)
	}
	if got := ts.form("code"); got != "code-123" {
		t.Fatalf("code = %q", got)
	}
	if got := ts.form("redirect_uri"); got != "https://gw.example.com/redirect" {
		t.Fatalf("redirect_uri = %q", got)
	}

	if _, err := c.AcquireTokenByCode(context.Background(), "  ", nil, ""); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("empty code err = %v", err)
	}
}

func TestAcquireToken_EndpointRejects(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "AADSTS50126: invalid username or password",
	})

	_, err := ts.client().AcquireTokenByCredentials(context.Background(), "alice", "wrong", nil)
	var te *TokenEndpointError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TokenEndpointError", err)
	}
	if te.StatusCode != http.StatusBadRequest || te.ErrorCode != "invalid_grant" {
		t.Fatalf("TokenEndpointError = %+v", te)
	}
}

func TestAcquireToken_MissingIDToken(t *testing.T) {
	t.Parallel()

	ts := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "at", "token_type": "Bearer"})
	if _, err := ts.client().AcquireTokenByCredentials(context.Background(), "a", "b", nil); !errors.Is(err, ErrMissingIDToken) {
		t.Fatalf("err = %v, want ErrMissingIDToken", err)
	}
}

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{
		ClientID:    "client-1",
		Authority:   "https://login.example.com/tenant",
		RedirectURI: "https://gw.example.com/redirect",
		Scopes:      DefaultScopes(),
	})
	got, err := c.AuthorizationURL(nil, "")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	if u.Host != "login.example.com" || u.Path != "/tenant"+authorizePath {
		t.Fatalf("unexpected endpoint: %s", got)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "client-1" || q.Get("redirect_uri") != "https://gw.example.com/redirect" {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}
	if !strings.Contains(q.Get("scope"), "user.read") {
		t.Fatalf("scope = %q", q.Get("scope"))
	}

	if _, err := NewClient(Config{}).AuthorizationURL(nil, ""); err == nil {
		t.Fatalf("expected error without authority")
	}
}

func TestRolesFromIDToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		claims  jwt.MapClaims
		claim   string
		want    []string
		wantErr error
	}{
		{name: "list", claims: jwt.MapClaims{"roles": []any{"a", "b"}}, claim: "roles", want: []string{"a", "b"}},
		{name: "single string", claims: jwt.MapClaims{"roles": "a"}, claim: "roles", want: []string{"a"}},
		{name: "custom claim", claims: jwt.MapClaims{"groups": []any{"x"}}, claim: "groups", want: []string{"x"}},
		{name: "absent", claims: jwt.MapClaims{"sub": "u"}, claim: "roles", want: []string{}},
		{name: "wrong type", claims: jwt.MapClaims{"roles": map[string]any{"a": 1}}, claim: "roles", wantErr: ErrInvalidClaim},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := rolesFromIDToken(signIDToken(t, tc.claims), tc.claim)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("rolesFromIDToken: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("roles = %#v, want %#v", got, tc.want)
			}
		})
	}

	if _, err := rolesFromIDToken("not-a-jwt", "roles"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRequestScopes(t *testing.T) {
	t.Parallel()

	if got := requestScopes([]string{"user.read"}); !reflect.DeepEqual(got, []string{"openid", "user.read"}) {
		t.Fatalf("requestScopes = %v", got)
	}
	if got := requestScopes([]string{"openid", " ", "profile"}); !reflect.DeepEqual(got, []string{"openid", "profile"}) {
		t.Fatalf("requestScopes = %v", got)
	}
}
