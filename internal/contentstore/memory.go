package contentstore

import (
	"context"
	"sync"

	"github.com/tagmesh/tagmesh/internal/common"
)

// MemoryStore is an in-memory ContentStore and NameResolver. It backs tests
// and the standalone mode where no remote store is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	names  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[string][]byte),
		names:  make(map[string]string),
	}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	id := ComputeID(data)
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.blocks[id] = cp
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blocks[contentID]
	m.mu.RUnlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStore) Publish(_ context.Context, name, contentID string) error {
	m.mu.Lock()
	m.names[name] = contentID
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Resolve(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	id, ok := m.names[name]
	m.mu.RUnlock()
	if !ok {
		return "", common.ErrNotFound
	}
	return id, nil
}
