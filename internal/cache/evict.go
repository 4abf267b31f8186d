package cache

// evictReq asks the eviction worker to bound one namespace; a request with
// a done channel is a barrier used by Flush.
type evictReq struct {
	namespace string
	done      chan struct{}
}

func (m *Manager) evictLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case req := <-m.evictCh:
			if req.done != nil {
				close(req.done)
				continue
			}
			m.evictNamespace(req.namespace)
		}
	}
}

// evictNamespace deletes the oldest entries until the namespace is back
// within its capacity. Insertion order decides the victims; read recency is
// never tracked. Failed deletes are already logged by the backend and are
// simply skipped; eviction itself never fails.
func (m *Manager) evictNamespace(name string) {
	ns, ok := m.spaces[name]
	if !ok {
		return
	}

	stamps := m.backend.Stamps(name)
	over := len(stamps) - ns.MaxEntries
	if over <= 0 {
		return
	}

	removed := 0
	for _, s := range stamps[:over] {
		if m.backend.Delete(name, s.Key) {
			removed++
		}
	}
	m.logger.Debug("evicted oldest entries", "namespace", name, "over", over, "removed", removed)
}
