package cache

import (
	"sort"
	"sync"
)

// MemoryBackend keeps all entries in process memory. It is the test default
// and the configuration fallback when no durable cache is wanted.
type MemoryBackend struct {
	mu     sync.RWMutex
	spaces map[string]map[string]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{spaces: make(map[string]map[string]Entry)}
}

func (m *MemoryBackend) Get(namespace, key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.spaces[namespace][key]
	return e, ok
}

func (m *MemoryBackend) Put(namespace, key string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	space, ok := m.spaces[namespace]
	if !ok {
		space = make(map[string]Entry)
		m.spaces[namespace] = space
	}
	space[key] = e
}

func (m *MemoryBackend) Delete(namespace, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	space, ok := m.spaces[namespace]
	if !ok {
		return false
	}
	if _, ok := space[key]; !ok {
		return false
	}
	delete(space, key)
	return true
}

func (m *MemoryBackend) Keys(namespace string) []string {
	stamps := m.Stamps(namespace)
	keys := make([]string, len(stamps))
	for i, s := range stamps {
		keys[i] = s.Key
	}
	return keys
}

func (m *MemoryBackend) Stamps(namespace string) []Stamp {
	m.mu.RLock()
	space := m.spaces[namespace]
	stamps := make([]Stamp, 0, len(space))
	for k, e := range space {
		stamps = append(stamps, Stamp{Key: k, StoredAt: e.StoredAt})
	}
	m.mu.RUnlock()

	sort.Slice(stamps, func(i, j int) bool {
		if stamps[i].StoredAt.Equal(stamps[j].StoredAt) {
			return stamps[i].Key < stamps[j].Key
		}
		return stamps[i].StoredAt.Before(stamps[j].StoredAt)
	})
	return stamps
}

func (m *MemoryBackend) DeleteNamespace(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, namespace)
}

func (m *MemoryBackend) Close() error { return nil }
