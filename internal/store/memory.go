package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process ConfigStore. Values do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	scope  string
	values map[string]string // "" = present but unset
}

func NewMemoryStore(scope string) *MemoryStore {
	if scope == "" {
		scope = DefaultScope
	}
	return &MemoryStore{scope: scope, values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.values[key]
	return v, v != "", nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) EnsureDefaults(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.values[k]; !ok {
			m.values[k] = ""
		}
	}
	return nil
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }
