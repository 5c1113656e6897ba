package auth_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/stretchr/testify/mock"
)

// MockIdentityProvider implements auth.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) Init(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentityProvider) IsLoggedIn(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockIdentityProvider) Login(ctx context.Context, redirectURI string) (string, error) {
	args := m.Called(ctx, redirectURI)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) Logout(ctx context.Context, redirectURI string) (string, error) {
	args := m.Called(ctx, redirectURI)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvider) Token(ctx context.Context) (string, time.Time, error) {
	args := m.Called(ctx)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockIdentityProvider) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	args := m.Called(ctx, minValidity)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentityProvider) UserRoles(ctx context.Context) []string {
	args := m.Called(ctx)
	roles, _ := args.Get(0).([]string)
	return roles
}

func (m *MockIdentityProvider) LoadUserProfile(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	profile, _ := args.Get(0).(map[string]any)
	return profile, args.Error(1)
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) has(level, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && c.message == message {
			return true
		}
	}
	return false
}

func (l *captureLogger) dump() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%v", l.calls)
}

var _ auth.Logger = (*captureLogger)(nil)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tellerProfile() map[string]any {
	return map[string]any{
		"sub":                "u-42",
		"preferred_username": "jdoe",
		"email":              "jdoe@example.com",
		"given_name":         "Jane",
		"family_name":        "Doe",
	}
}

// newLoggedInProvider returns an initialized provider whose session holds
// token, valid until expiresAt.
func newLoggedInProvider(idp *MockIdentityProvider, token string, expiresAt time.Time, opts ...auth.TokenProviderOption) *auth.TokenProvider {
	idp.On("Init", mock.Anything).Return(true, nil).Once()
	idp.On("Token", mock.Anything).Return(token, expiresAt, nil).Once()
	idp.On("LoadUserProfile", mock.Anything).Return(tellerProfile(), nil).Once()
	idp.On("UserRoles", mock.Anything).Return([]string{"TELLER"}).Once()

	tp := auth.NewTokenProvider(idp, auth.NewSession(), opts...)
	if err := tp.Initialize(context.Background()); err != nil {
		panic(err)
	}
	return tp
}
