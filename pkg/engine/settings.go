package engine

import (
	"sort"
	"sync"
)

// Settings is the engine's string-keyed configuration object. Values set later
// overwrite earlier ones, which is the engine's only merge rule.
//
// Settings is safe for concurrent use.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettings creates an empty settings object.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]string)}
}

// Set stores value under key, replacing any previous value.
func (s *Settings) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the value stored under key.
func (s *Settings) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is set.
func (s *Settings) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Len returns the number of keys set.
func (s *Settings) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the set keys in sorted order.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of all settings.
func (s *Settings) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
