package payload

import (
	"sync"

	"github.com/cuemby/landscape/pkg/canon"
)

// MemStore is an in-memory Store used by tests and by single-shot
// tooling that does not need durability across process restarts.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore constructs an empty in-memory payload store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Put(data []byte) (string, error) {
	hash := canon.HashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[hash]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.data[hash] = stored
	}
	return hash, nil
}

func (m *MemStore) Get(hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[hash]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Has(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[hash]
	return ok, nil
}

func (m *MemStore) Delete(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, hash)
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
