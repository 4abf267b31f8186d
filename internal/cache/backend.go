package cache

import "time"

// Stamp pairs a key with its insertion time; the evictor sorts these to find
// the oldest entries in a namespace.
type Stamp struct {
	Key      string
	StoredAt time.Time
}

// Backend is the raw storage under the manager. Implementations are safe for
// concurrent use and best-effort: storage failures are logged internally, a
// put never fails from the caller's view, and a failed delete reports false.
type Backend interface {
	// Get returns the entry for (namespace, key) without expiry checks.
	Get(namespace, key string) (Entry, bool)
	// Put stores the entry, overwriting any existing one for the same key.
	Put(namespace, key string, e Entry)
	// Delete removes the entry, reporting whether it was present.
	Delete(namespace, key string) bool
	// Keys lists the namespace's keys in insertion order.
	Keys(namespace string) []string
	// Stamps lists the namespace's keys with their insertion times.
	Stamps(namespace string) []Stamp
	// DeleteNamespace removes every entry in the namespace.
	DeleteNamespace(namespace string)
	// Close releases storage resources.
	Close() error
}
