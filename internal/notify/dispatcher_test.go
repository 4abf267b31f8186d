package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kanbanhq/syncbox/internal/cache"
	"github.com/kanbanhq/syncbox/internal/config"
)

type fakeViews struct {
	open map[string]string // target → view id
}

func (f *fakeViews) Find(target string) (string, bool) {
	id, ok := f.open[target]
	return id, ok
}

type recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recorder) record(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func newTestDispatcher(t *testing.T, cfg config.NotificationsConfig, views ViewRegistry) (*Dispatcher, *cache.Manager, *recorder) {
	t.Helper()
	reg, err := NewRegistry("", slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	mgr := cache.NewManager(cache.NewMemoryBackend(), []cache.Namespace{
		{Name: config.NamespaceAPI, MaxEntries: 32, TTL: time.Hour},
	}, slog.Default())
	if err := mgr.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Stop)

	d := NewDispatcher(reg, mgr, views, cfg, slog.Default())
	rec := &recorder{}
	d.Subscribe(rec.record)
	return d, mgr, rec
}

func atLocalTime(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 3, 10, hour, minute, 0, 0, time.Local)
	}
}

func defaultTestConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		DefaultLanding: "/",
		QuietHours:     config.QuietHoursConfig{Start: "22:00", End: "08:00"},
		Preferences:    config.PreferencesConfig{Sound: true, Vibration: true},
	}
}

func TestDispatchMergesTemplate(t *testing.T) {
	d, _, rec := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"card-assigned","body":"Dana assigned you Review PR"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.Title != "Card assigned to you" {
		t.Errorf("title = %q, want template default", n.Title)
	}
	if n.Icon != "/icons/card.png" || n.Badge != "/icons/badge.png" {
		t.Errorf("icon/badge not filled from template: %q %q", n.Icon, n.Badge)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != "open-card" {
		t.Errorf("actions = %+v, want template defaults", n.Actions)
	}
	if n.Suppressed != "" {
		t.Errorf("suppressed = %q, want delivered", n.Suppressed)
	}
	if rec.count() != 1 {
		t.Errorf("subscriber calls = %d, want 1", rec.count())
	}
}

func TestDispatchPayloadOverridesTemplate(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"card-assigned","title":"Custom title","icon":"/me.png","actions":[{"action":"snooze","title":"Snooze"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "Custom title" || n.Icon != "/me.png" {
		t.Errorf("payload fields overridden by template: %q %q", n.Title, n.Icon)
	}
	if len(n.Actions) != 1 || n.Actions[0].Action != "snooze" {
		t.Errorf("actions = %+v, want payload's own", n.Actions)
	}
}

func TestQuietHoursSuppression(t *testing.T) {
	cases := []struct {
		name       string
		hour, min  int
		typ        string
		suppressed string
	}{
		{"late evening suppressed", 23, 0, "comment-added", "quiet-hours"},
		{"early morning suppressed", 7, 30, "comment-added", "quiet-hours"},
		{"daytime delivered", 12, 0, "comment-added", ""},
		{"boundary start suppressed", 22, 0, "comment-added", "quiet-hours"},
		{"boundary end delivered", 8, 0, "comment-added", ""},
		{"high priority rides through", 23, 0, "card-due", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _, rec := newTestDispatcher(t, defaultTestConfig(), nil)
			d.now = atLocalTime(tc.hour, tc.min)

			n, err := d.Dispatch([]byte(fmt.Sprintf(`{"type":%q,"title":"hello"}`, tc.typ)))
			if err != nil {
				t.Fatal(err)
			}
			if n.Suppressed != tc.suppressed {
				t.Errorf("suppressed = %q, want %q", n.Suppressed, tc.suppressed)
			}
			wantCalls := 1
			if tc.suppressed != "" {
				wantCalls = 0
			}
			if rec.count() != wantCalls {
				t.Errorf("subscriber calls = %d, want %d", rec.count(), wantCalls)
			}
		})
	}
}

func TestSuppressedPayloadStillUpdatesCache(t *testing.T) {
	d, mgr, rec := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(23, 0)

	raw := []byte(`{
		"type": "comment-added",
		"title": "New comment",
		"data": {"cacheUpdates": [{"key": "/api/cards/9", "value": {"comments": 4}}]}
	}`)
	n, err := d.Dispatch(raw)
	if err != nil {
		t.Fatal(err)
	}
	if n.Suppressed != "quiet-hours" {
		t.Fatalf("suppressed = %q, want quiet-hours", n.Suppressed)
	}
	if rec.count() != 0 {
		t.Error("suppressed notification was delivered")
	}

	entry, freshness := mgr.Lookup(config.NamespaceAPI, "/api/cards/9")
	if freshness != cache.Fresh {
		t.Fatalf("embedded update not applied, freshness = %s", freshness)
	}
	if string(entry.Body) != `{"comments":4}` {
		t.Errorf("cached body = %s", entry.Body)
	}
}

func TestMutedTypeSuppressed(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Preferences.MutedTypes = []string{"comment-added"}
	d, _, rec := newTestDispatcher(t, cfg, nil)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"comment-added","title":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.Suppressed != "muted" || rec.count() != 0 {
		t.Errorf("suppressed = %q calls = %d, want muted and 0", n.Suppressed, rec.count())
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	d, _, rec := newTestDispatcher(t, defaultTestConfig(), nil)

	if _, err := d.Dispatch([]byte(`{"title": unquoted}`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
	if _, err := d.Dispatch([]byte(`{"body":"no title or type"}`)); err == nil {
		t.Fatal("payload without title or type accepted")
	}
	if rec.count() != 0 || len(d.Recent(0)) != 0 {
		t.Error("dropped payloads left traces")
	}
}

func TestSilentPayloadMutesSoundAndVibration(t *testing.T) {
	d, _, rec := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"generic","title":"quiet one","silent":true,"vibrate":[100,50,100]}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.Sound || n.Vibrate != nil {
		t.Errorf("silent payload kept sound=%v vibrate=%v", n.Sound, n.Vibrate)
	}
	if n.Suppressed != "" || rec.count() != 1 {
		t.Error("silent payload should still be delivered")
	}
}

func TestInteractResolutionPrecedence(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	full, err := d.Dispatch([]byte(`{
		"type": "card-assigned",
		"title": "t",
		"data": {"url": "/boards/1", "actionUrls": {"open-card": "/boards/1/card/2"}}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	// Explicit action mapping wins.
	intent, err := d.Interact(full.ID, "open-card")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Target != "/boards/1/card/2" {
		t.Errorf("action target = %q, want /boards/1/card/2", intent.Target)
	}

	// Plain click falls back to the embedded URL.
	intent, err = d.Interact(full.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Target != "/boards/1" {
		t.Errorf("click target = %q, want /boards/1", intent.Target)
	}

	// Neither mapping nor URL: default landing.
	bare, err := d.Dispatch([]byte(`{"type":"generic","title":"t"}`))
	if err != nil {
		t.Fatal(err)
	}
	intent, err = d.Interact(bare.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Target != "/" {
		t.Errorf("bare target = %q, want default landing", intent.Target)
	}

	if _, err := d.Interact("no-such-id", ""); err == nil {
		t.Error("unknown notification id accepted")
	}
}

func TestInteractTemplateActionURL(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"board-invite","title":"Join Ops board"}`))
	if err != nil {
		t.Fatal(err)
	}
	intent, err := d.Interact(n.ID, "accept")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Target != "/invites" {
		t.Errorf("target = %q, want template action url /invites", intent.Target)
	}
}

func TestInteractFocusesOpenView(t *testing.T) {
	views := &fakeViews{open: map[string]string{"/boards/1": "view-42"}}
	d, _, _ := newTestDispatcher(t, defaultTestConfig(), views)
	d.now = atLocalTime(12, 0)

	n, err := d.Dispatch([]byte(`{"type":"generic","title":"t","data":{"url":"/boards/1"}}`))
	if err != nil {
		t.Fatal(err)
	}

	intent, err := d.Interact(n.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Action != "focus" || intent.ViewID != "view-42" {
		t.Errorf("intent = %+v, want focus view-42", intent)
	}

	other, err := d.Dispatch([]byte(`{"type":"generic","title":"t","data":{"url":"/boards/9"}}`))
	if err != nil {
		t.Fatal(err)
	}
	intent, err = d.Interact(other.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Action != "open" || intent.ViewID != "" {
		t.Errorf("intent = %+v, want open without view id", intent)
	}
}

func TestUpdateConfigAppliesLive(t *testing.T) {
	d, _, rec := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	cfg := defaultTestConfig()
	cfg.Preferences.MutedTypes = []string{"generic"}
	d.UpdateConfig(cfg)

	n, err := d.Dispatch([]byte(`{"type":"generic","title":"t"}`))
	if err != nil {
		t.Fatal(err)
	}
	if n.Suppressed != "muted" || rec.count() != 0 {
		t.Errorf("live config not applied: suppressed=%q calls=%d", n.Suppressed, rec.count())
	}
}

func TestRecentRingIsBounded(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultTestConfig(), nil)
	d.now = atLocalTime(12, 0)

	for i := 0; i < recentLimit+20; i++ {
		if _, err := d.Dispatch([]byte(fmt.Sprintf(`{"type":"generic","title":"n%d"}`, i))); err != nil {
			t.Fatal(err)
		}
	}
	recent := d.Recent(0)
	if len(recent) != recentLimit {
		t.Fatalf("recent = %d entries, want %d", len(recent), recentLimit)
	}
	if recent[len(recent)-1].Title != fmt.Sprintf("n%d", recentLimit+19) {
		t.Errorf("newest entry = %q, want the last dispatched", recent[len(recent)-1].Title)
	}
}
