// Package persist keeps the user-visible configuration across power loss.
package persist

import "sync"

// Store is the non-volatile key-value store, namespaced to this device.
// Only durability of the last Put per key is required.
type Store interface {
	// Get returns the stored value, or def if the key has never been written.
	Get(key string, def uint16) (uint16, error)

	// Put stores value under key.
	Put(key string, value uint16) error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]uint16
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]uint16)}
}

func (m *MemoryStore) Get(key string, def uint16) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *MemoryStore) Put(key string, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
