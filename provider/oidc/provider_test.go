package oidc_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/provider/oidc"
)

const (
	testClientID = "bank-app"
	testKID      = "test-key"
)

type fakeIdP struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	verifiers     []string
	refreshGrants int
	accessTTL     time.Duration
	failRefresh   bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIdP{t: t, key: key, accessTTL: time.Hour}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("/certs", f.certs)
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/userinfo", f.userinfo)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIdP) url() string { return f.server.URL }

func (f *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"issuer":                                f.url(),
		"authorization_endpoint":                f.url() + "/auth",
		"token_endpoint":                        f.url() + "/token",
		"userinfo_endpoint":                     f.url() + "/userinfo",
		"jwks_uri":                              f.url() + "/certs",
		"end_session_endpoint":                  f.url() + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIdP) certs(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		f.verifiers = append(f.verifiers, r.PostForm.Get("code_verifier"))
	case "refresh_token":
		if f.failRefresh {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.refreshGrants++
	default:
		http.Error(w, "unsupported", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"access_token":  f.sign(f.accessClaims()),
		"id_token":      f.sign(f.idClaims()),
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"expires_in":    int(f.accessTTL.Seconds()),
	})
}

func (f *fakeIdP) userinfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{
		"sub":                "u-42",
		"preferred_username": "jdoe",
		"email":              "jdoe@example.com",
		"given_name":         "Jane",
		"family_name":        "Doe",
	})
}

func (f *fakeIdP) accessClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":          f.url(),
		"sub":          "u-42",
		"iat":          now.Unix(),
		"exp":          now.Add(f.accessTTL).Unix(),
		"realm_access": map[string]any{"roles": []string{"TELLER"}},
		"resource_access": map[string]any{
			testClientID: map[string]any{"roles": []string{"ACCOUNTS"}},
			"other":      map[string]any{"roles": []string{"ADMIN"}},
		},
	}
}

func (f *fakeIdP) idClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": f.url(),
		"sub": "u-42",
		"aud": testClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func (f *fakeIdP) sign(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(f.key)
	require.NoError(f.t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(t *testing.T, f *fakeIdP, jwks bool) *oidc.Client {
	t.Helper()
	cfg := oidc.Config{
		Issuer:      f.url(),
		ClientID:    testClientID,
		RedirectURL: "http://app.local/auth/callback",
	}
	if jwks {
		cfg.JWKSURL = f.url() + "/certs"
	}
	client, err := oidc.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func loginAndExchange(t *testing.T, p *oidc.Provider, returnTo string) (string, url.Values) {
	t.Helper()
	ctx := context.Background()
	target, err := p.Login(ctx, returnTo)
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	query := u.Query()

	redirect, err := p.Exchange(ctx, query.Get("state"), "good-code")
	require.NoError(t, err)
	return redirect, query
}

func TestNewClient_RequiresConfig(t *testing.T) {
	_, err := oidc.NewClient(context.Background(), oidc.Config{Issuer: "http://example.com"})
	require.Error(t, err)
}

func TestLogin_BuildsPKCEAuthorizationURL(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()

	redirect, query := loginAndExchange(t, p, "/accounts")
	assert.Equal(t, "/accounts", redirect)

	assert.Equal(t, testClientID, query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("state"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.verifiers, 1)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(f.verifiers[0]), query.Get("code_challenge"))
	assert.True(t, p.IsLoggedIn(context.Background()))
}

func TestExchange_RejectsUnknownState(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()

	_, err := p.Login(context.Background(), "/home")
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "forged", "good-code")
	require.Error(t, err)
	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, auth.TextCodeStateMismatch, rich.TextCode)
	assert.False(t, p.IsLoggedIn(context.Background()))
}

func TestExchange_StateIsSingleUse(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()

	_, query := loginAndExchange(t, p, "/home")
	_, err := p.Exchange(context.Background(), query.Get("state"), "good-code")
	assert.Error(t, err)
}

func TestUserRoles_MergesRealmAndClientRoles(t *testing.T) {
	for _, verified := range []bool{false, true} {
		f := newFakeIdP(t)
		p := newClient(t, f, verified).Session()
		loginAndExchange(t, p, "/home")

		assert.Equal(t, []string{"ACCOUNTS", "TELLER"}, p.UserRoles(context.Background()), "verified=%v", verified)
	}
}

func TestLoadUserProfile(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()
	loginAndExchange(t, p, "/home")

	profile, err := p.LoadUserProfile(context.Background())
	require.NoError(t, err)

	principal, err := auth.NormalizePrincipal(profile, p.UserRoles(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "u-42", principal.ID)
	assert.Equal(t, "Jane Doe", principal.DisplayName())
	assert.True(t, principal.HasRole("ACCOUNTS"))
}

func TestUpdateToken(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()
	loginAndExchange(t, p, "/home")
	ctx := context.Background()

	refreshed, err := p.UpdateToken(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)

	refreshed, err = p.UpdateToken(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, refreshed)

	f.mu.Lock()
	assert.Equal(t, 1, f.refreshGrants)
	f.failRefresh = true
	f.mu.Unlock()

	_, err = p.UpdateToken(ctx, 2*time.Hour)
	assert.Error(t, err)
}

func TestLogout_ReturnsEndSessionURL(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, false).Session()
	loginAndExchange(t, p, "/home")

	target, err := p.Logout(context.Background(), "http://app.local/")
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "http://app.local/", u.Query().Get("post_logout_redirect_uri"))
	assert.NotEmpty(t, u.Query().Get("id_token_hint"))
	assert.False(t, p.IsLoggedIn(context.Background()))

	_, _, err = p.Token(context.Background())
	assert.Error(t, err)
}

func TestProvider_DrivesTokenProvider(t *testing.T) {
	f := newFakeIdP(t)
	p := newClient(t, f, true).Session()
	loginAndExchange(t, p, "/home")
	ctx := context.Background()

	tp := auth.NewTokenProvider(p, nil)
	require.NoError(t, tp.Initialize(ctx))

	assert.True(t, tp.Session().Authenticated())
	assert.NotEmpty(t, tp.GetToken(ctx))
	assert.Equal(t, []string{"ACCOUNTS", "TELLER"}, tp.GetRoles().Slice())
}
