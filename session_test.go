package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionIsUnauthenticated(t *testing.T) {
	s := auth.NewSession()

	assert.False(t, s.Authenticated())
	_, ok := s.Principal()
	assert.False(t, ok)
	_, ok = s.Credential()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), s.Generation())
}

func TestCredentialTimeToExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	d, ok := auth.Credential{Token: "t", ExpiresAt: now.Add(time.Minute)}.TimeToExpiry(now)
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)

	_, ok = auth.Credential{Token: "t"}.TimeToExpiry(now)
	assert.False(t, ok)
}

func TestSessionPrincipalSnapshotIsCopied(t *testing.T) {
	idp := new(MockIdentityProvider)
	tp := newLoggedInProvider(idp, "tok", time.Time{})

	p, ok := tp.Session().Principal()
	require.True(t, ok)
	p.Roles["ADMIN"] = struct{}{}

	again, _ := tp.Session().Principal()
	assert.False(t, again.HasRole("ADMIN"))
}

func TestPrincipalDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", auth.Principal{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "ada", auth.Principal{Username: "ada"}.DisplayName())
	assert.Equal(t, "ada@example.com", auth.Principal{Email: "ada@example.com"}.DisplayName())
}
