// Package redisflags keeps persisted pipeline flags in Redis so they are
// shared between processes. Keys are namespaced by prefix and scope, where
// scope is usually the browser session id.
package redisflags

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-auth-pipeline"
)

const DefaultPrefix = "authpipe:flags:"

// Option customizes the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires flags after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Store implements auth.FlagStore on Redis.
type Store struct {
	client redis.Cmdable
	prefix string
	scope  string
	ttl    time.Duration
}

var _ auth.FlagStore = (*Store)(nil)

// New returns a Store with the global scope.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Scoped returns a copy of the store whose keys live under scope.
func (s *Store) Scoped(scope string) *Store {
	out := *s
	out.scope = scope
	return &out
}

func (s *Store) key(name string) string {
	if s.scope == "" {
		return s.prefix + name
	}
	return s.prefix + s.scope + ":" + name
}

// Get returns the flag value. ok is false when the flag is not set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, wrap(err, "get", key)
	}
	return value, true, nil
}

// Set stores the flag.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return wrap(err, "set", key)
	}
	return nil
}

// Delete removes the flags. Missing flags are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.key(key)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return wrap(err, "delete", keys[0])
	}
	return nil
}

func wrap(err error, op, key string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "flag store "+op+" failed").
		WithMetadata(map[string]any{"key": key})
}
