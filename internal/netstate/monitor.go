// Package netstate tracks whether the origin is reachable. Transport
// results, an explicit host signal, and a recovery probe feed the state;
// subscribers hear about transitions (the sync coordinator drains the
// offline queue on the offline→online edge).
package netstate

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Monitor holds the current online/offline state. Only transport-level
// failures flip it offline; an origin answering with a 5xx is still
// reachable. While offline, a probe loop issues HEAD requests against the
// origin so recovery is noticed without waiting for client traffic.
type Monitor struct {
	origin     string
	probeEvery time.Duration
	client     *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewMonitor(origin string, probeEvery time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		origin:     origin,
		probeEvery: probeEvery,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "netstate"),
		online:     true, // optimistic until proven otherwise
	}
}

// Start launches the recovery probe loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})

	if m.probeEvery > 0 {
		m.wg.Add(1)
		go m.probeLoop()
	}

	m.logger.Info("connectivity monitor started", "origin", m.origin, "probeInterval", m.probeEvery)
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("connectivity monitor stopped")
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback invoked on every transition. Callbacks run
// outside the monitor's lock, on the goroutine that caused the transition.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline applies a host-declared connectivity state.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online, "host signal")
}

// ReportSuccess records a completed network attempt.
func (m *Monitor) ReportSuccess() {
	m.transition(true, "network success")
}

// ReportFailure records a transport-level failure.
func (m *Monitor) ReportFailure(err error) {
	m.logger.Debug("network failure reported", "error", err)
	m.transition(false, "network failure")
}

func (m *Monitor) transition(online bool, reason string) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online, "reason", reason)
	for _, fn := range subs {
		fn(online)
	}
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.Online() {
				continue
			}
			m.probe()
		}
	}
}

// probe counts any HTTP response as reachability, status irrelevant.
func (m *Monitor) probe() {
	req, err := http.NewRequest(http.MethodHead, m.origin, nil)
	if err != nil {
		m.logger.Warn("probe request build failed", "error", err)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("probe failed", "error", err)
		return
	}
	_ = resp.Body.Close()
	m.transition(true, "probe")
}
