// Package oidc adapts an OpenID Connect identity provider (Keycloak shaped:
// realm and client roles, userinfo, end-session) to auth.IdentityProvider.
//
// A Client holds the discovery result and is shared by the process. Every
// browser session gets its own Provider from Client.Session.
package oidc

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	auth "github.com/goliatone/go-auth-pipeline"
)

const DefaultPendingTTL = 10 * time.Minute

// Config configures the OIDC client.
type Config struct {
	Issuer       string   `mapstructure:"issuer"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	// JWKSURL enables signature verification of access tokens before their
	// role claims are trusted.
	JWKSURL string `mapstructure:"jwks_url"`
	// PendingTTL bounds how long a started login may wait for its callback.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient sets the client used for discovery, token and userinfo calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = auth.NewRedactingLogger(logger)
		}
	}
}

// Client is the discovered identity provider.
type Client struct {
	config     Config
	oauth      *oauth2.Config
	provider   *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
	jwks       *keyfunc.JWKS
	endSession string
	httpClient *http.Client
	logger     auth.Logger
	now        func() time.Time
}

// NewClient runs discovery against cfg.Issuer.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, goerrors.New("issuer, client_id and redirect_url are required", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}

	c := &Client{
		config:     cfg,
		httpClient: http.DefaultClient,
		logger:     auth.NewLogger(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	provider, err := gooidc.NewProvider(c.clientContext(ctx), cfg.Issuer)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "oidc discovery failed").
			WithMetadata(map[string]any{"issuer": cfg.Issuer})
	}

	var extra struct {
		EndSession string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		c.logger.Warn("unable to read discovery claims", "error", err)
	}

	c.provider = provider
	c.endSession = extra.EndSession
	c.verifier = provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID, Now: c.now})
	c.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes,
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:               ctx,
			Client:            c.httpClient,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				c.logger.Warn("jwks background refresh failed", "error", err)
			},
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "unable to load jwks").
				WithMetadata(map[string]any{"jwks_url": cfg.JWKSURL})
		}
		c.jwks = jwks
	}

	return c, nil
}

// Close stops background key refreshes.
func (c *Client) Close() {
	if c.jwks != nil {
		c.jwks.EndBackground()
	}
}

// Session returns a new per-user identity provider.
func (c *Client) Session() *Provider {
	return &Provider{client: c, pending: make(map[string]pendingLogin)}
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, c.httpClient)
}

type pendingLogin struct {
	verifier    string
	redirectURI string
	createdAt   time.Time
}

// Provider implements auth.IdentityProvider for one user session.
type Provider struct {
	client *Client

	mu      sync.RWMutex
	pending map[string]pendingLogin
	token   *oauth2.Token
	idToken string
}

var _ auth.IdentityProvider = (*Provider)(nil)

// Init reports whether the session already holds tokens.
func (p *Provider) Init(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.IsLoggedIn(ctx), nil
}

// IsLoggedIn reports whether the session holds a usable or refreshable token.
func (p *Provider) IsLoggedIn(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil {
		return false
	}
	return p.token.RefreshToken != "" || p.token.Expiry.IsZero() || p.token.Expiry.After(p.client.now())
}

// Login starts an authorization code flow with PKCE and returns the
// authorization endpoint URL. redirectURI is returned by Exchange once the
// callback arrives.
func (p *Provider) Login(_ context.Context, redirectURI string) (string, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	now := p.client.now()

	p.mu.Lock()
	for key, pl := range p.pending {
		if now.Sub(pl.createdAt) > p.client.config.PendingTTL {
			delete(p.pending, key)
		}
	}
	p.pending[state] = pendingLogin{verifier: verifier, redirectURI: redirectURI, createdAt: now}
	p.mu.Unlock()

	return p.client.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange completes a login callback. It returns the redirect URI given to
// Login.
func (p *Provider) Exchange(ctx context.Context, state, code string) (string, error) {
	p.mu.Lock()
	pl, ok := p.pending[state]
	delete(p.pending, state)
	p.mu.Unlock()

	if !ok || p.client.now().Sub(pl.createdAt) > p.client.config.PendingTTL {
		return "", auth.ErrStateMismatch.Clone().WithMetadata(map[string]any{
			"state": state,
		})
	}

	token, err := p.client.oauth.Exchange(p.client.clientContext(ctx), code, oauth2.VerifierOption(pl.verifier))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "authorization code exchange failed").
			WithCode(goerrors.CodeUnauthorized)
	}

	rawID, err := p.verifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.token = token
	p.idToken = rawID
	p.mu.Unlock()

	return pl.redirectURI, nil
}

// Logout drops the local tokens and returns the provider end-session URL,
// if the provider advertises one.
func (p *Provider) Logout(_ context.Context, redirectURI string) (string, error) {
	p.mu.Lock()
	idToken := p.idToken
	p.token = nil
	p.idToken = ""
	p.mu.Unlock()

	if p.client.endSession == "" {
		return "", nil
	}

	u, err := url.Parse(p.client.endSession)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "invalid end_session_endpoint")
	}
	q := u.Query()
	q.Set("client_id", p.client.config.ClientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if redirectURI != "" {
		q.Set("post_logout_redirect_uri", redirectURI)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Token returns the access token and its expiry.
func (p *Provider) Token(_ context.Context) (string, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == nil || p.token.AccessToken == "" {
		return "", time.Time{}, goerrors.New("no access token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	return p.token.AccessToken, p.token.Expiry, nil
}

// UpdateToken uses the refresh token when the access token expires within
// minValidity.
func (p *Provider) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	p.mu.RLock()
	current := p.token
	p.mu.RUnlock()

	if current == nil || current.RefreshToken == "" {
		return false, goerrors.New("no refresh token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	if !current.Expiry.IsZero() && current.Expiry.Sub(p.client.now()) >= minValidity {
		return false, nil
	}

	source := p.client.oauth.TokenSource(p.client.clientContext(ctx), &oauth2.Token{
		RefreshToken: current.RefreshToken,
	})
	token, err := source.Token()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryAuth, "refresh grant failed").
			WithCode(goerrors.CodeUnauthorized)
	}

	rawID := ""
	if _, ok := token.Extra("id_token").(string); ok {
		if rawID, err = p.verifyIDToken(ctx, token); err != nil {
			return false, err
		}
	}

	p.mu.Lock()
	p.token = token
	if rawID != "" {
		p.idToken = rawID
	}
	p.mu.Unlock()
	return true, nil
}

// UserRoles returns the realm roles and the client roles of the access
// token. Without a JWKS URL the token is parsed without verification.
func (p *Provider) UserRoles(_ context.Context) []string {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	if token == nil || token.AccessToken == "" {
		return nil
	}

	claims := &AccessClaims{}
	var err error
	if p.client.jwks != nil {
		_, err = jwt.ParseWithClaims(token.AccessToken, claims, p.client.jwks.Keyfunc,
			jwt.WithTimeFunc(p.client.now),
		)
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(token.AccessToken, claims)
	}
	if err != nil {
		p.client.logger.Warn("unable to read access token roles", "error", err)
		return nil
	}
	return claims.Roles(p.client.config.ClientID)
}

// LoadUserProfile fetches the userinfo document. Providers without a
// userinfo endpoint fall back to the ID token claims.
func (p *Provider) LoadUserProfile(ctx context.Context) (map[string]any, error) {
	p.mu.RLock()
	token := p.token
	idToken := p.idToken
	p.mu.RUnlock()
	if token == nil {
		return nil, goerrors.New("no session", goerrors.CategoryAuth).WithCode(goerrors.CodeUnauthorized)
	}

	profile := map[string]any{}
	if p.client.provider.UserInfoEndpoint() == "" {
		id, err := p.client.verifier.Verify(p.client.clientContext(ctx), idToken)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid id token")
		}
		if err := id.Claims(&profile); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "unreadable id token claims")
		}
		return profile, nil
	}

	info, err := p.client.provider.UserInfo(p.client.clientContext(ctx), oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "userinfo request failed")
	}
	if err := info.Claims(&profile); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "unreadable userinfo")
	}
	return profile, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, token *oauth2.Token) (string, error) {
	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return "", goerrors.New("token response without id_token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}
	if _, err := p.client.verifier.Verify(p.client.clientContext(ctx), rawID); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryAuth, "id token verification failed").
			WithCode(goerrors.CodeUnauthorized)
	}
	return rawID, nil
}
