// Package cache implements the namespaced response store: one bounded
// key→response cache per namespace, with insertion-order eviction and lazy
// TTL expiry applied on read.
package cache

import (
	"net/http"
	"time"
)

// Entry is one cached response, identified by (namespace, requestKey).
// Entries are replaced whole; nothing mutates one in place.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Namespace is a named cache partition. Capacity and TTL are namespace-wide
// constants fixed at startup, never per-entry.
type Namespace struct {
	Name       string
	MaxEntries int
	TTL        time.Duration
}

// Freshness classifies a lookup result. Stale entries count as absent for
// normal reads; strategies may still serve them as a network-failure
// fallback.
type Freshness int

const (
	Miss Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// NamespaceStatus is the introspection view of one namespace: current
// occupancy plus the policy it runs under.
type NamespaceStatus struct {
	Size       int      `json:"size"`
	MaxEntries int      `json:"maxEntries"`
	TTLMs      int64    `json:"ttlMs"`
	Keys       []string `json:"keys"`
}
