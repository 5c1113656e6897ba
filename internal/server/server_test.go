package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/internal/server"
	"github.com/goliatone/go-auth-pipeline/middleware/csrf"
	"github.com/goliatone/go-auth-pipeline/provider/static"
)

type upstream struct {
	server *httptest.Server
	hits   atomic.Int32
	auth   atomic.Value
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.auth.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/expired":
			w.WriteHeader(http.StatusUnauthorized)
		case "/v1/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func testConfig(upstreamURL string) server.Config {
	cfg := server.DefaultConfig()
	cfg.UpstreamURL = upstreamURL + "/v1"
	cfg.SessionKey = strings.Repeat("k", 32)
	cfg.Static = server.StaticConfig{
		SigningKey: "static-secret",
		Users: []static.User{
			{ID: "u-1", Username: "teller", Email: "teller@example.com", Roles: []string{"TELLER"}, Password: "pw"},
			{ID: "u-2", Username: "auditor", Email: "auditor@example.com", Roles: []string{"ACCOUNTS"}, Password: "pw"},
		},
	}
	cfg.Pipeline.Routes = []auth.RouteConfig{{Path: "/accounts/*", Roles: []string{"ACCOUNTS"}}}
	return cfg
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newBrowser(t *testing.T, handler http.Handler) *browser {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(method, path string, body io.Reader, headers map[string]string) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(method, b.base+path, body)
	require.NoError(b.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) get(path string) *http.Response {
	return b.do(http.MethodGet, path, nil, nil)
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	resp := b.get("/auth/csrf")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	var info csrf.Info
	require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&info))
	return info.Token
}

func (b *browser) signIn(username, redirect string) *http.Response {
	form := url.Values{"username": {username}, "password": {"pw"}, csrf.DefaultFormFieldName: {b.csrfToken()}}
	return b.do(http.MethodPost, static.DefaultLoginURL+"?redirect_uri="+url.QueryEscape(redirect),
		strings.NewReader(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	)
}

func (b *browser) logout() *http.Response {
	return b.do(http.MethodPost, "/auth/logout", nil, map[string]string{csrf.DefaultHeaderName: b.csrfToken()})
}

func newServer(t *testing.T, cfg server.Config, opts ...server.Option) *server.Server {
	t.Helper()
	srv, err := server.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return srv
}

func TestServer_LoginFlowAndGuardedPages(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	resp := b.get("/accounts/1")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/static/login?redirect_uri=%2Faccounts%2F1", resp.Header.Get("Location"))

	resp = b.signIn("auditor", "/accounts/1")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/accounts/1", resp.Header.Get("Location"))

	resp = b.get("/accounts/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Path      string `json:"path"`
		Principal struct {
			ID    string   `json:"id"`
			Roles []string `json:"roles"`
		} `json:"principal"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, "/accounts/1", page.Path)
	assert.Equal(t, "u-2", page.Principal.ID)
	assert.Equal(t, []string{"ACCOUNTS"}, page.Principal.Roles)
}

func TestServer_MissingRoleRedirectsToUnauthorized(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	b.signIn("teller", "/home")

	resp := b.get("/accounts/1")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))

	resp = b.get("/home")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = b.get("/unauthorized")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_APIProxyAttachesBearer(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	resp := b.get("/api/accounts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", up.auth.Load())

	b.signIn("auditor", "/home")

	resp = b.do(http.MethodGet, "/api/accounts", nil, map[string]string{"Authorization": "Bearer forged"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/v1/accounts"}`, string(body))

	header, _ := up.auth.Load().(string)
	assert.True(t, strings.HasPrefix(header, "Bearer "))
	assert.NotEqual(t, "Bearer forged", header)
}

func TestServer_APIMutationsRequireCSRFHeader(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())
	b.signIn("auditor", "/home")
	hits := up.hits.Load()

	resp := b.do(http.MethodPost, "/api/transfers", strings.NewReader(`{"amount":10}`),
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, hits, up.hits.Load())

	resp = b.do(http.MethodPost, "/api/transfers", strings.NewReader(`{"amount":10}`), map[string]string{
		"Content-Type":         "application/json",
		csrf.DefaultHeaderName: b.csrfToken(),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, hits+1, up.hits.Load())
}

func TestServer_APIUnauthenticatedCarriesLoginRedirect(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())
	b.signIn("auditor", "/home")

	resp := b.do(http.MethodGet, "/api/expired", nil, map[string]string{
		"Referer": b.base + "/accounts/1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "/auth/login?returnUrl=%2Faccounts%2F1", resp.Header.Get(server.HeaderLoginRedirect))
}

func TestServer_APIServerErrorRetriedOnce(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	resp := b.get("/api/broken")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestServer_APINetworkFailure(t *testing.T) {
	up := newUpstream(t)
	var calls atomic.Int32
	failing := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})
	b := newBrowser(t, newServer(t, testConfig(up.server.URL), server.WithUpstreamTransport(failing)).Handler())

	resp := b.get("/api/accounts")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(auth.KindNetwork), body["kind"])
}

func TestServer_Logout(t *testing.T) {
	up := newUpstream(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := newBrowser(t, newServer(t, testConfig(up.server.URL), server.WithRedisClient(client)).Handler())

	resp := b.get("/home")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.NotEmpty(t, mr.Keys())

	b.signIn("auditor", "/home")
	require.Equal(t, http.StatusOK, b.get("/home").StatusCode)

	resp = b.do(http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = b.logout()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Empty(t, mr.Keys())

	resp = b.get("/home")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestServer_LoginEndpoint(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	resp := b.get("/auth/login?returnUrl=%2Faccounts%2F9")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/static/login?redirect_uri=%2Faccounts%2F9", resp.Header.Get("Location"))

	for _, target := range []string{"%2F%2Fevil.example", "%2F%5Cevil.example", "https%3A%2F%2Fevil.example%2F"} {
		resp = b.get("/auth/login?returnUrl=" + target)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/auth/static/login?redirect_uri=%2Fhome", resp.Header.Get("Location"), target)
	}

	resp = b.signIn("auditor", "https://evil.example/")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))
}

func TestServer_OpsEndpoints(t *testing.T) {
	up := newUpstream(t)
	b := newBrowser(t, newServer(t, testConfig(up.server.URL)).Handler())

	assert.Equal(t, http.StatusNoContent, b.get("/healthz").StatusCode)

	b.get("/home")
	resp := b.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "authpipe_guard_decisions_total")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.SessionKey = "short"
	_, err := server.New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig("http://127.0.0.1:1")
	cfg.Static.SigningKey = ""
	_, err = server.New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bankgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
upstream_url: "http://api.bank.local/v1"
session_key: "0123456789abcdef0123456789abcdef"
static:
  signing_key: "dev"
  users:
    - id: u-1
      username: teller
      roles: [TELLER]
      password: pw
pipeline:
  app_base_url: "http://bank.local"
  max_retries: 2
  routes:
    - path: /accounts/*
      roles: [ACCOUNTS]
`), 0o600))

	cfg, err := server.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, server.ProviderStatic, cfg.Provider)
	assert.Equal(t, 2, cfg.Pipeline.MaxRetries)
	assert.Equal(t, auth.DefaultLoginPath, cfg.Pipeline.LoginPath)
	require.Len(t, cfg.Static.Users, 1)
	assert.Equal(t, []string{"TELLER"}, cfg.Static.Users[0].Roles)
	require.Len(t, cfg.Pipeline.Routes, 1)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
