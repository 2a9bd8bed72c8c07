// pkg/params/memory.go
package params

import (
	"context"
	"sync"
)

// memStore keeps params in process memory. Used for dev bring-up and tests.
type memStore struct {
	mu     sync.Mutex
	values map[string]string // tenantID + "\x00" + key
}

func NewMemoryStore() Store {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) key(tenantID, key string) string { return tenantID + "\x00" + key }

func (m *memStore) Get(ctx context.Context, tenantID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[m.key(tenantID, key)]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, tenantID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[m.key(tenantID, key)] = value
	return nil
}

func (m *memStore) SetIfAbsent(ctx context.Context, tenantID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(tenantID, key)
	if _, ok := m.values[k]; !ok {
		m.values[k] = value
	}
	return nil
}
