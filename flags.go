package auth

import (
	"context"
	"sync"
)

// MemoryFlagStore is an in-process FlagStore.
type MemoryFlagStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryFlagStore returns a FlagStore seeded with initial values.
func NewMemoryFlagStore(initial map[string]string) *MemoryFlagStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryFlagStore{values: values}
}

func (s *MemoryFlagStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryFlagStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryFlagStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

type noopFlagStore struct{}

func (noopFlagStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (noopFlagStore) Set(context.Context, string, string) error         { return nil }
func (noopFlagStore) Delete(context.Context, ...string) error           { return nil }

func normalizeFlagStore(s FlagStore) FlagStore {
	if s == nil {
		return noopFlagStore{}
	}
	return s
}
