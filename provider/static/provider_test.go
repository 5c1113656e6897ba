package static_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/provider/static"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newProvider(t *testing.T, opts ...static.Option) *static.Provider {
	t.Helper()
	p, err := static.New(static.Config{
		SigningKey: []byte("test-secret"),
		TokenTTL:   time.Minute,
		Users: []static.User{
			{ID: "u-1", Username: "teller", Email: "teller@example.com", FirstName: "Tom", LastName: "Teller", Roles: []string{"TELLER"}, Password: "pw"},
			{ID: "u-2", Username: "auditor", Email: "auditor@example.com", Roles: []string{"AUDITOR", "ACCOUNTS"}, Password: "pw"},
		},
	}, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresSigningKey(t *testing.T) {
	_, err := static.New(static.Config{})
	require.Error(t, err)
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	loggedIn, err := p.Init(ctx)
	require.NoError(t, err)
	assert.False(t, loggedIn)

	err = p.SignIn(ctx, "teller", "wrong")
	require.Error(t, err)
	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "INVALID_CREDENTIALS", rich.TextCode)
	assert.False(t, p.IsLoggedIn(ctx))

	require.NoError(t, p.SignIn(ctx, "Teller", "pw"))
	assert.True(t, p.IsLoggedIn(ctx))

	token, expiry, err := p.Token(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.False(t, expiry.IsZero())
	assert.Equal(t, []string{"TELLER"}, p.UserRoles(ctx))
}

func TestLoadUserProfile_NormalizesIntoPrincipal(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	require.NoError(t, p.SignIn(ctx, "auditor", "pw"))

	profile, err := p.LoadUserProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-2", profile["sub"])

	principal, err := auth.NormalizePrincipal(profile, p.UserRoles(ctx))
	require.NoError(t, err)
	assert.Equal(t, "u-2", principal.ID)
	assert.Equal(t, "auditor", principal.Username)
	assert.Equal(t, []string{"ACCOUNTS", "AUDITOR"}, principal.Roles.Slice())
}

func TestUpdateToken(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := newProvider(t, static.WithClock(c.Now))
	require.NoError(t, p.SignIn(ctx, "teller", "pw"))

	first, _, err := p.Token(ctx)
	require.NoError(t, err)

	refreshed, err := p.UpdateToken(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)

	c.Advance(45 * time.Second)
	refreshed, err = p.UpdateToken(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, refreshed)

	second, expiry, err := p.Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, c.Now().Add(time.Minute), expiry)
}

func TestUpdateToken_NotLoggedIn(t *testing.T) {
	p := newProvider(t)
	_, err := p.UpdateToken(context.Background(), time.Second)
	assert.ErrorIs(t, err, static.ErrNotLoggedIn)
}

func TestLoginAndLogout(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	target, err := p.Login(ctx, "http://localhost:8080/accounts")
	require.NoError(t, err)
	assert.Equal(t, "/auth/static/login?redirect_uri=http%3A%2F%2Flocalhost%3A8080%2Faccounts", target)

	require.NoError(t, p.SignIn(ctx, "teller", "pw"))
	endSession, err := p.Logout(ctx, "http://localhost:8080/")
	require.NoError(t, err)
	assert.Empty(t, endSession)
	assert.False(t, p.IsLoggedIn(ctx))

	_, _, err = p.Token(ctx)
	assert.Error(t, err)
	assert.Nil(t, p.UserRoles(ctx))
}

func TestLatency_HonorsContext(t *testing.T) {
	p, err := static.New(static.Config{SigningKey: []byte("k"), Latency: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Init(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorksWithTokenProvider(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	require.NoError(t, p.SignIn(ctx, "auditor", "pw"))

	tp := auth.NewTokenProvider(p, nil)
	require.NoError(t, tp.Initialize(ctx))

	token := tp.GetToken(ctx)
	assert.NotEmpty(t, token)
	assert.True(t, tp.GetRoles().Has("ACCOUNTS"))
}
