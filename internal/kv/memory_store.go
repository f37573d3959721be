package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps values in-process. Saves are counted so callers can
// assert persistence behavior in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
	saves map[string]int
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
		saves: make(map[string]int),
	}
}

// Load returns a copy of the value saved under key.
func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Save stores a copy of value under key.
func (m *MemoryStore) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	m.saves[key]++
	return nil
}

// Saves reports how many times key was written.
func (m *MemoryStore) Saves(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[key]
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
