// Package cache defines the cache contract used by the client-side query
// cache and provides a ristretto-backed default.
package cache

import (
	"sync"
	"time"
)

type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// Simple is a mutex-guarded map cache without eviction. It backs tests and
// serves as a deterministic fallback; production callers should prefer the
// ristretto backend.
type Simple struct {
	mu      sync.RWMutex
	entries map[string]simpleEntry
}

type simpleEntry struct {
	value    any
	deadline time.Time
}

func NewSimple() *Simple {
	return &Simple{entries: make(map[string]simpleEntry)}
}

func (s *Simple) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		s.Del(key)
		return nil, false
	}
	return e.value, true
}

func (s *Simple) Set(key string, value any, _ int64, ttl time.Duration) bool {
	var deadline time.Time
	if ttl > 0 {
		deadline = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = simpleEntry{value: value, deadline: deadline}
	s.mu.Unlock()
	return true
}

func (s *Simple) Del(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}
