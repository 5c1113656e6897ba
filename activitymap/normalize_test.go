package activitymap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/activitymap"
)

func TestNormalizeSynced(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.SessionEvent{
		Type: auth.SessionEventSynced,
		Principal: auth.Principal{
			ID:    "u-42",
			Roles: auth.NewRoleSet("TELLER", "ACCOUNTS"),
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event, activitymap.WithSession("sid-1"))

	assert.Equal(t, "u-42", out.ActorID)
	assert.Equal(t, string(auth.SessionEventSynced), out.Verb)
	assert.Equal(t, "session", out.ObjectType)
	assert.Equal(t, "sid-1", out.ObjectID)
	assert.Equal(t, "auth", out.Channel)
	assert.Equal(t, ts, out.OccurredAt)
	assert.Equal(t, map[string]any{
		activitymap.MetadataKeyRoles:   []string{"ACCOUNTS", "TELLER"},
		activitymap.MetadataKeySession: "sid-1",
	}, out.Metadata)
}

func TestNormalizeClearedWithoutPrincipal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := activitymap.Normalize(
		auth.SessionEvent{Type: auth.SessionEventCleared, Reason: "logout"},
		activitymap.WithClock(func() time.Time { return now }),
		activitymap.WithDefaultChannel(" gateway "),
		activitymap.WithDefaultObjectType("browser"),
		activitymap.WithActorFallback("system"),
	)

	assert.Equal(t, "system", out.ActorID)
	assert.Equal(t, "gateway", out.Channel)
	assert.Equal(t, "browser", out.ObjectType)
	assert.Empty(t, out.ObjectID)
	assert.Equal(t, now, out.OccurredAt)
	assert.Equal(t, map[string]any{activitymap.MetadataKeyReason: "logout"}, out.Metadata)
}

func TestNormalizeDefaultActor(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(auth.SessionEvent{Type: auth.SessionEventCleared})
	assert.Equal(t, "anonymous", out.ActorID)
	assert.Nil(t, out.Metadata)
	assert.False(t, out.OccurredAt.IsZero())
}
