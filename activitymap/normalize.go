// Package activitymap converts session events into a transport agnostic
// activity record for audit logs and downstream consumers.
package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-pipeline"
)

const (
	// MetadataKeyReason stores SessionEvent.Reason.
	MetadataKeyReason = "reason"
	// MetadataKeyRoles stores the principal roles at the time of the event.
	MetadataKeyRoles = "roles"
	// MetadataKeySession stores the browser session the event belongs to.
	MetadataKeySession = "session"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	objectID      string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an auth.SessionEvent into a generic normalized shape.
func Normalize(event auth.SessionEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Principal.ID), options.actorFallback),
		Verb:       string(event.Type),
		ObjectType: options.objectType,
		ObjectID:   options.objectID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event, options),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithSession records the browser session as the object of the activity.
func WithSession(id string) Option {
	return func(opts *normalizeOptions) {
		opts.objectID = strings.TrimSpace(id)
	}
}

// WithActorFallback sets the actor id used when the event has no principal.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func normalizeMetadata(event auth.SessionEvent, options normalizeOptions) map[string]any {
	var metadata map[string]any
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}

	if reason := strings.TrimSpace(event.Reason); reason != "" {
		set(MetadataKeyReason, reason)
	}
	if event.Principal.Roles.Len() > 0 {
		set(MetadataKeyRoles, event.Principal.Roles.Slice())
	}
	if options.objectID != "" {
		set(MetadataKeySession, options.objectID)
	}
	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
