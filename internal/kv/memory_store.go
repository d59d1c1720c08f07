package kv

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps (for demo/testing).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string // session → key → value
}

// NewMemoryStore creates an in-memory key-value store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, session, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, ok := s.sessions[session]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := keys[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, session, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.sessions[session]
	if !ok {
		keys = make(map[string]string)
		s.sessions[session] = keys
	}
	keys[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, session, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keys, ok := s.sessions[session]; ok {
		delete(keys, key)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, session)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
