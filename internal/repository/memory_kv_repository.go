package repository

import (
	"context"
	"sync"
)

// MemoryKVRepository is a process-scoped store. It plays the tab-scoped tier:
// values live exactly as long as the owning context.
type MemoryKVRepository struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKVRepository creates an empty store.
func NewMemoryKVRepository() *MemoryKVRepository {
	return &MemoryKVRepository{values: make(map[string][]byte)}
}

func (r *MemoryKVRepository) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (r *MemoryKVRepository) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = append([]byte(nil), value...)
	return nil
}

func (r *MemoryKVRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}
