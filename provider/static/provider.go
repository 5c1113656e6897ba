// Package static is a local identity provider for development and tests. It
// signs HS256 access tokens for a fixed list of users and can simulate
// identity provider latency.
package static

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	auth "github.com/goliatone/go-auth-pipeline"
)

const (
	DefaultIssuer   = "static-idp"
	DefaultTokenTTL = 5 * time.Minute
	DefaultLoginURL = "/auth/static/login"
)

var (
	// ErrInvalidCredentials is returned by SignIn for unknown users or wrong passwords.
	ErrInvalidCredentials = goerrors.New("invalid username or password", goerrors.CategoryAuth).
				WithTextCode("INVALID_CREDENTIALS").
				WithCode(goerrors.CodeUnauthorized)

	// ErrNotLoggedIn is returned by token operations when no user is signed in.
	ErrNotLoggedIn = goerrors.New("no user signed in", goerrors.CategoryAuth).
			WithTextCode("NOT_LOGGED_IN").
			WithCode(goerrors.CodeUnauthorized)
)

// User is a seeded account.
type User struct {
	ID        string   `mapstructure:"id"`
	Username  string   `mapstructure:"username"`
	Email     string   `mapstructure:"email"`
	FirstName string   `mapstructure:"first_name"`
	LastName  string   `mapstructure:"last_name"`
	Roles     []string `mapstructure:"roles"`
	Password  string   `mapstructure:"password"`
}

// Config configures the provider.
type Config struct {
	SigningKey []byte
	Issuer     string
	TokenTTL   time.Duration
	// Latency is added to every remote looking call.
	Latency  time.Duration
	LoginURL string
	Users    []User
}

// Claims is the access token payload, shaped like a Keycloak token.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username,omitempty"`
	Email             string      `json:"email,omitempty"`
	GivenName         string      `json:"given_name,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access"`
}

// RealmAccess holds the realm roles.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Option customizes the Provider.
type Option func(*Provider)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Provider implements auth.IdentityProvider against in memory users.
type Provider struct {
	config Config
	users  map[string]User
	now    func() time.Time

	mu      sync.RWMutex
	current *User
	token   string
	expiry  time.Time
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New builds a Provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, goerrors.New("static provider requires a signing key", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeInvalidConfig).
			WithCode(goerrors.CodeBadRequest)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}

	p := &Provider{
		config: cfg,
		users:  make(map[string]User, len(cfg.Users)),
		now:    time.Now,
	}
	for _, u := range cfg.Users {
		p.users[strings.ToLower(u.Username)] = u
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Init reports whether a user is already signed in.
func (p *Provider) Init(ctx context.Context) (bool, error) {
	if err := p.wait(ctx); err != nil {
		return false, err
	}
	return p.IsLoggedIn(ctx), nil
}

// IsLoggedIn reports whether a user is signed in.
func (p *Provider) IsLoggedIn(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current != nil
}

// Login returns the local sign in form URL.
func (p *Provider) Login(ctx context.Context, redirectURI string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if redirectURI == "" {
		return p.config.LoginURL, nil
	}
	return p.config.LoginURL + "?redirect_uri=" + url.QueryEscape(redirectURI), nil
}

// SignIn checks the credentials and mints a token for the user.
func (p *Provider) SignIn(ctx context.Context, username, password string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	user, ok := p.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok || user.Password != password {
		return ErrInvalidCredentials.Clone().WithMetadata(map[string]any{
			"username": username,
		})
	}

	token, expiry, err := p.mint(user)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = &user
	p.token = token
	p.expiry = expiry
	p.mu.Unlock()
	return nil
}

// Logout signs the user out. There is no remote end-session page.
func (p *Provider) Logout(ctx context.Context, _ string) (string, error) {
	p.mu.Lock()
	p.current = nil
	p.token = ""
	p.expiry = time.Time{}
	p.mu.Unlock()
	return "", p.wait(ctx)
}

// Token returns the current access token.
func (p *Provider) Token(_ context.Context) (string, time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return "", time.Time{}, ErrNotLoggedIn
	}
	return p.token, p.expiry, nil
}

// UpdateToken mints a new token when the current one expires within
// minValidity.
func (p *Provider) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	if err := p.wait(ctx); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false, ErrNotLoggedIn
	}
	if p.expiry.Sub(p.now()) >= minValidity {
		return false, nil
	}

	token, expiry, err := p.mint(*p.current)
	if err != nil {
		return false, err
	}
	p.token = token
	p.expiry = expiry
	return true, nil
}

// UserRoles returns the realm roles carried by the current token.
func (p *Provider) UserRoles(_ context.Context) []string {
	claims, err := p.claims()
	if err != nil {
		return nil
	}
	return append([]string(nil), claims.RealmAccess.Roles...)
}

// LoadUserProfile returns the profile decoded from the current token.
func (p *Provider) LoadUserProfile(ctx context.Context) (map[string]any, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	claims, err := p.claims()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sub":                claims.Subject,
		"preferred_username": claims.PreferredUsername,
		"email":              claims.Email,
		"given_name":         claims.GivenName,
		"family_name":        claims.FamilyName,
		"realm_access": map[string]any{
			"roles": append([]string(nil), claims.RealmAccess.Roles...),
		},
	}, nil
}

func (p *Provider) mint(user User) (string, time.Time, error) {
	issuedAt := p.now()
	expiry := issuedAt.Add(p.config.TokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.config.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		PreferredUsername: user.Username,
		Email:             user.Email,
		GivenName:         user.FirstName,
		FamilyName:        user.LastName,
		RealmAccess:       RealmAccess{Roles: append([]string(nil), user.Roles...)},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.config.SigningKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, expiry, nil
}

func (p *Provider) claims() (*Claims, error) {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	if token == "" {
		return nil, ErrNotLoggedIn
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.config.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid static token").
			WithCode(goerrors.CodeUnauthorized)
	}
	return claims, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.config.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.config.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
