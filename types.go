package auth

import (
	"context"
	"time"
)

// Logger is the structured logger used across the pipeline. Args are
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// IdentityProvider is the external identity provider client. The pipeline
// treats it as an opaque async capability provider and never speaks
// OAuth/OIDC itself.
type IdentityProvider interface {
	// Init restores any existing login state and reports whether the
	// provider currently holds an authenticated session.
	Init(ctx context.Context) (bool, error)
	// IsLoggedIn reports the provider's live state.
	IsLoggedIn(ctx context.Context) bool
	// Login prepares an interactive login and returns the URL the user
	// agent must be sent to. redirectURI is where the user should land
	// after a successful login.
	Login(ctx context.Context, redirectURI string) (string, error)
	// Logout ends the provider session. The returned URL, when not empty,
	// is the provider's end-session page.
	Logout(ctx context.Context, redirectURI string) (string, error)
	// Token returns the current bearer token and its expiry.
	Token(ctx context.Context) (string, time.Time, error)
	// UpdateToken refreshes the token if it expires within minValidity.
	UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error)
	// UserRoles returns the role names granted to the current user.
	UserRoles(ctx context.Context) []string
	// LoadUserProfile fetches the loosely typed user profile.
	LoadUserProfile(ctx context.Context) (map[string]any, error)
}

// Navigator performs navigation side effects on behalf of the pipeline.
type Navigator interface {
	CurrentPath() string
	Navigate(ctx context.Context, target string) error
}

// FlagStore is a small key/value store for locally persisted flags such
// as the e2e bypass flag, the redirect target, and UI preferences.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
