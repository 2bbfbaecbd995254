// Package kv holds the per-user key/value abstraction shared by the session
// store and the quota ledger.
package kv

import (
	"context"
	"sort"
	"sync"
)

// Store is a narrow per-key store. Implementations must be safe for
// concurrent use; callers that need read-modify-write atomicity per key wrap
// their access in a KeyedMutex.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
}

// Memory is a process-lifetime Store backed by a map.
type Memory[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{data: make(map[string]V)}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns the stored keys in sorted order.
func (m *Memory[V]) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

var _ Store[int] = (*Memory[int])(nil)
