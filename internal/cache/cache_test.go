package cache

import (
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func testSpaces() []Namespace {
	return []Namespace{
		{Name: "static", MaxEntries: 3, TTL: time.Hour},
		{Name: "dynamic", MaxEntries: 4, TTL: time.Hour},
		{Name: "api", MaxEntries: 8, TTL: 50 * time.Millisecond},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(NewMemoryBackend(), testSpaces(), slog.Default())
	if err := m.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func entry(body string) Entry {
	return Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func TestLookupFreshness(t *testing.T) {
	m := newTestManager(t)

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Store("api", "/api/boards", entry("boards"))

	if _, f := m.Lookup("api", "/api/boards"); f != Fresh {
		t.Fatalf("expected fresh entry, got %s", f)
	}
	if _, f := m.Lookup("api", "/api/nothing"); f != Miss {
		t.Fatalf("expected miss for unknown key, got %s", f)
	}
	if _, f := m.Lookup("unknown", "/api/boards"); f != Miss {
		t.Fatalf("expected miss for unknown namespace, got %s", f)
	}

	// Past the 50ms api TTL the entry reads as stale even though it is
	// still physically present.
	now = now.Add(51 * time.Millisecond)
	e, f := m.Lookup("api", "/api/boards")
	if f != Stale {
		t.Fatalf("expected stale entry after ttl, got %s", f)
	}
	if string(e.Body) != "boards" {
		t.Errorf("stale lookup should still carry the entry, got %q", e.Body)
	}
	if _, ok := m.backend.Get("api", "/api/boards"); !ok {
		t.Error("expiry must be lazy: entry should not be swept from the backend")
	}
}

func TestStoreReplacesWholeEntry(t *testing.T) {
	m := newTestManager(t)

	m.Store("api", "/api/boards", entry("v1"))
	m.Store("api", "/api/boards", entry("v2"))
	m.Flush()

	e, f := m.Lookup("api", "/api/boards")
	if f != Fresh {
		t.Fatalf("expected fresh entry, got %s", f)
	}
	if string(e.Body) != "v2" {
		t.Errorf("expected last write to win, got %q", e.Body)
	}
	if n := len(m.Keys("api")); n != 1 {
		t.Errorf("expected a single entry after overwrite, got %d", n)
	}
}

func TestEvictionBoundsNamespace(t *testing.T) {
	m := newTestManager(t)

	base := time.Now()
	step := 0
	m.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	keys := []string{"/a", "/b", "/c", "/d", "/e", "/f"}
	for _, k := range keys {
		m.Store("static", k, entry(k))
	}
	m.Flush()

	got := m.Keys("static")
	if len(got) != 3 {
		t.Fatalf("expected capacity 3 after eviction, got %d keys %v", len(got), got)
	}
	// Insertion-order eviction keeps the newest writes.
	want := []string{"/d", "/e", "/f"}
	for i, k := range want {
		if got[i] != k {
			t.Errorf("expected survivor %s at %d, got %s", k, i, got[i])
		}
	}
}

func TestEvictionIgnoresReadRecency(t *testing.T) {
	m := newTestManager(t)

	base := time.Now()
	step := 0
	m.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	m.Store("static", "/oldest", entry("a"))
	m.Store("static", "/mid", entry("b"))
	m.Store("static", "/new", entry("c"))
	m.Flush()

	// Heavy reads must not protect the oldest insertion.
	for i := 0; i < 20; i++ {
		if _, f := m.Lookup("static", "/oldest"); f != Fresh {
			t.Fatalf("expected fresh read, got %s", f)
		}
	}

	m.Store("static", "/overflow", entry("d"))
	m.Flush()

	if _, f := m.Lookup("static", "/oldest"); f != Miss {
		t.Error("oldest insertion should be evicted regardless of reads")
	}
	if _, f := m.Lookup("static", "/overflow"); f != Fresh {
		t.Error("newest insertion should survive eviction")
	}
}

func TestClearByHint(t *testing.T) {
	m := newTestManager(t)

	m.Store("static", "/s", entry("s"))
	m.Store("dynamic", "/d", entry("d"))
	m.Store("api", "/a", entry("a"))
	m.Flush()

	cleared := m.Clear("stat")
	if len(cleared) != 1 || cleared[0] != "static" {
		t.Fatalf("expected only static cleared, got %v", cleared)
	}
	if len(m.Keys("static")) != 0 {
		t.Error("static namespace should be empty")
	}
	if len(m.Keys("dynamic")) != 1 || len(m.Keys("api")) != 1 {
		t.Error("other namespaces must be untouched")
	}

	// An empty hint matches every namespace.
	cleared = m.Clear("")
	if len(cleared) != 3 {
		t.Fatalf("expected all namespaces cleared, got %v", cleared)
	}
	if len(m.Keys("dynamic")) != 0 || len(m.Keys("api")) != 0 {
		t.Error("expected everything cleared")
	}
}

func TestStatus(t *testing.T) {
	m := newTestManager(t)

	base := time.Now()
	step := 0
	m.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	m.Store("dynamic", "/one", entry("1"))
	m.Store("dynamic", "/two", entry("2"))
	m.Flush()

	st := m.Status()
	if st["dynamic"].Size != 2 {
		t.Errorf("expected dynamic size 2, got %d", st["dynamic"].Size)
	}
	if len(st["dynamic"].Keys) != 2 || st["dynamic"].Keys[0] != "/one" || st["dynamic"].Keys[1] != "/two" {
		t.Errorf("expected insertion-ordered keys, got %v", st["dynamic"].Keys)
	}
	if st["dynamic"].MaxEntries != 4 || st["dynamic"].TTLMs != time.Hour.Milliseconds() {
		t.Errorf("expected namespace policy in status, got %+v", st["dynamic"])
	}
	if st["static"].Size != 0 {
		t.Errorf("expected empty static namespace, got %d", st["static"].Size)
	}
}

func TestDeleteAndDeleteNamespace(t *testing.T) {
	m := newTestManager(t)

	m.Store("api", "/a", entry("a"))
	m.Store("api", "/b", entry("b"))
	m.Flush()

	if !m.Delete("api", "/a") {
		t.Error("expected delete to report the entry present")
	}
	if m.Delete("api", "/a") {
		t.Error("expected delete of a missing entry to report false")
	}

	m.DeleteNamespace("api")
	if len(m.Keys("api")) != 0 {
		t.Error("expected namespace empty after DeleteNamespace")
	}
}

func TestStoreUnknownNamespaceDropped(t *testing.T) {
	m := newTestManager(t)

	m.Store("nope", "/x", entry("x"))
	if _, ok := m.backend.Get("nope", "/x"); ok {
		t.Error("store to an unconfigured namespace must be dropped")
	}
}
