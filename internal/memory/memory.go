// Package memory provides the key/value working-memory store shared with
// tools and the convergence engine.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is one key/value pair returned by prefix search.
type Entry struct {
	Key   string
	Value any
}

// Store is the working-memory contract. Keys must be non-empty.
type Store interface {
	Write(key string, value any) error
	Read(key string) (any, error)
	Search(prefix string) ([]Entry, error)
}

// InMemory is a mutex-guarded Store implementation.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewInMemory builds an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]any)}
}

// Write stores value under key.
func (s *InMemory) Write(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("memory key must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Read returns the value for key, or nil when absent.
func (s *InMemory) Read(key string) (any, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("memory key must be non-empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

// Search returns all entries whose key starts with prefix, key-sorted.
func (s *InMemory) Search(prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var _ Store = (*InMemory)(nil)
