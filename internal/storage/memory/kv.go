// Package memory keeps archive state in-memory for development and tests.
package memory

import (
	"context"
	"sync"
)

// KV is a map-backed key-value store.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKV creates an empty in-memory KV.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns the values present for keys. Missing keys are omitted.
func (s *KV) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := s.data[key]; ok {
			out[key] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Set stores copies of every item.
func (s *KV) Set(_ context.Context, items map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, v := range items {
		s.data[key] = append([]byte(nil), v...)
	}
	return nil
}

// Remove deletes keys; unknown keys are ignored.
func (s *KV) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// Len reports the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
