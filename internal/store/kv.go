package store

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by a KV when a key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is a namespaced key/value store. Every call is synchronous and
// independent; no transaction spans more than one call.
type KV interface {
	Get(namespace, key string) ([]byte, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	Close() error
}

// MemoryKV keeps values in process memory. It is used for tests and for
// running without persistent storage.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string][]byte)}
}

func (m *MemoryKV) Get(namespace, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryKV) Put(namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	ns[key] = cp
	return nil
}

func (m *MemoryKV) Delete(namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// Compile-time check that MemoryKV implements KV.
var _ KV = (*MemoryKV)(nil)
