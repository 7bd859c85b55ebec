package repository

import (
	"context"
	"sync"
)

// MemorySnapshotStore is a process-local store used for tests and as failover target.
type MemorySnapshotStore struct {
	data sync.Map // map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, nil
	}
	src := val.([]byte)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemorySnapshotStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data.Store(key, stored)
	return nil
}
