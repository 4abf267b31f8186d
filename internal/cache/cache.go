package cache

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager layers namespace policy over a Backend: TTL expiry on lookup,
// capacity eviction after every store, clear-by-hint, and introspection.
// It is the only path the rest of the daemon uses to touch cached responses.
type Manager struct {
	backend Backend
	spaces  map[string]Namespace
	logger  *slog.Logger

	now func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	evictCh chan evictReq
}

func NewManager(backend Backend, spaces []Namespace, logger *slog.Logger) *Manager {
	m := &Manager{
		backend: backend,
		spaces:  make(map[string]Namespace, len(spaces)),
		logger:  logger.With("component", "cache"),
		now:     time.Now,
		evictCh: make(chan evictReq, 64),
	}
	for _, ns := range spaces {
		m.spaces[ns.Name] = ns
	}
	return m
}

// Start launches the eviction worker.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.evictLoop()

	m.logger.Info("cache manager started", "namespaces", len(m.spaces))
	return nil
}

// Stop halts the eviction worker and closes the backend.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	if err := m.backend.Close(); err != nil {
		m.logger.Warn("backend close failed", "error", err)
	}
	m.logger.Info("cache manager stopped")
}

// Lookup returns the entry for (namespace, key) with its freshness. Entries
// older than the namespace TTL come back Stale: absent for normal reads,
// still available as a network-failure fallback. Expired entries are not
// swept here; write pressure or an explicit clear removes them.
func (m *Manager) Lookup(namespace, key string) (Entry, Freshness) {
	ns, ok := m.spaces[namespace]
	if !ok {
		return Entry{}, Miss
	}
	e, ok := m.backend.Get(namespace, key)
	if !ok {
		return Entry{}, Miss
	}
	if m.now().Sub(e.StoredAt) > ns.TTL {
		return e, Stale
	}
	return e, Fresh
}

// Store writes the entry (whole-entry replacement, last writer wins) and
// schedules exactly one eviction pass for the namespace. The response path
// never waits for eviction.
func (m *Manager) Store(namespace, key string, e Entry) {
	if _, ok := m.spaces[namespace]; !ok {
		m.logger.Warn("store to unknown namespace dropped", "namespace", namespace, "key", key)
		return
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = m.now()
	}
	m.backend.Put(namespace, key, e)
	m.evictCh <- evictReq{namespace: namespace}
}

// Delete removes one entry, reporting whether it was present.
func (m *Manager) Delete(namespace, key string) bool {
	return m.backend.Delete(namespace, key)
}

// Keys lists a namespace's keys in insertion order.
func (m *Manager) Keys(namespace string) []string {
	return m.backend.Keys(namespace)
}

// DeleteNamespace removes every entry in the namespace.
func (m *Manager) DeleteNamespace(namespace string) {
	m.backend.DeleteNamespace(namespace)
}

// Clear deletes all namespaces whose name contains hint and returns their
// names. An empty hint matches everything.
func (m *Manager) Clear(hint string) []string {
	var cleared []string
	for name := range m.spaces {
		if strings.Contains(name, hint) {
			m.backend.DeleteNamespace(name)
			cleared = append(cleared, name)
		}
	}
	sort.Strings(cleared)
	m.logger.Info("cache cleared", "hint", hint, "namespaces", cleared)
	return cleared
}

// Status reports per-namespace occupancy and policy for diagnostics.
func (m *Manager) Status() map[string]NamespaceStatus {
	out := make(map[string]NamespaceStatus, len(m.spaces))
	for name, ns := range m.spaces {
		keys := m.backend.Keys(name)
		out[name] = NamespaceStatus{
			Size:       len(keys),
			MaxEntries: ns.MaxEntries,
			TTLMs:      ns.TTL.Milliseconds(),
			Keys:       keys,
		}
	}
	return out
}

// Namespaces returns the configured namespace policies.
func (m *Manager) Namespaces() []Namespace {
	out := make([]Namespace, 0, len(m.spaces))
	for _, ns := range m.spaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Flush blocks until every eviction scheduled so far has run. Only valid
// while the manager is running.
func (m *Manager) Flush() {
	done := make(chan struct{})
	m.evictCh <- evictReq{done: done}
	<-done
}
