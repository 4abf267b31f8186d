package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kanbanhq/syncbox/internal/cache"
	"github.com/kanbanhq/syncbox/internal/config"
)

// recentLimit bounds the in-memory notification history used for
// interaction routing and diagnostics.
const recentLimit = 100

// Notification is a rendered notification ready for delivery.
type Notification struct {
	ID                 string            `json:"id"`
	Type               string            `json:"type"`
	Title              string            `json:"title"`
	Body               string            `json:"body,omitempty"`
	Icon               string            `json:"icon,omitempty"`
	Badge              string            `json:"badge,omitempty"`
	Image              string            `json:"image,omitempty"`
	Tag                string            `json:"tag,omitempty"`
	Actions            []Action          `json:"actions,omitempty"`
	ActionURLs         map[string]string `json:"actionUrls,omitempty"`
	Data               map[string]any    `json:"data,omitempty"`
	HighPriority       bool              `json:"highPriority"`
	Sound              bool              `json:"sound"`
	Vibrate            []int             `json:"vibrate,omitempty"`
	RequireInteraction bool              `json:"requireInteraction,omitempty"`
	Renotify           bool              `json:"renotify,omitempty"`
	ReceivedAt         time.Time         `json:"receivedAt"`

	// Suppressed names why the notification was not delivered
	// ("quiet-hours", "muted"); empty means it was shown.
	Suppressed string `json:"suppressed,omitempty"`
}

// NavigationIntent is the dispatcher's answer to an interaction: focus an
// existing client view or open a new one at the target.
type NavigationIntent struct {
	Target string `json:"target"`
	Action string `json:"action"` // "focus" or "open"
	ViewID string `json:"viewId,omitempty"`
}

// ViewRegistry locates an open client view showing a target, for
// focus-instead-of-open interaction handling.
type ViewRegistry interface {
	Find(target string) (viewID string, ok bool)
}

// Dispatcher turns raw push messages into notifications: parse, merge with
// the type's template, apply preferences and quiet hours, then hand the
// result to subscribers. Embedded cache updates are applied even when the
// notification itself is suppressed.
type Dispatcher struct {
	templates *Registry
	cache     *cache.Manager
	views     ViewRegistry
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	landing string
	quiet   config.QuietHoursConfig
	prefs   config.PreferencesConfig
	muted   map[string]bool
	recent  []Notification
	subs    []func(Notification)
}

func NewDispatcher(templates *Registry, cacheMgr *cache.Manager, views ViewRegistry, cfg config.NotificationsConfig, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		templates: templates,
		cache:     cacheMgr,
		views:     views,
		logger:    logger.With("component", "notify"),
		now:       time.Now,
	}
	d.UpdateConfig(cfg)
	return d
}

// UpdateConfig swaps the preference set; used for live config reload.
func (d *Dispatcher) UpdateConfig(cfg config.NotificationsConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.landing = cfg.DefaultLanding
	if d.landing == "" {
		d.landing = "/"
	}
	d.quiet = cfg.QuietHours
	d.prefs = cfg.Preferences
	d.muted = make(map[string]bool, len(cfg.Preferences.MutedTypes))
	for _, typ := range cfg.Preferences.MutedTypes {
		d.muted[typ] = true
	}
}

// Subscribe registers a delivery callback. Suppressed notifications are
// not delivered.
func (d *Dispatcher) Subscribe(fn func(Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

// Dispatch processes one raw push message. Malformed payloads are logged
// and dropped. The returned notification records whether it was shown or
// why it was suppressed.
func (d *Dispatcher) Dispatch(raw []byte) (*Notification, error) {
	payload, err := parsePayload(raw)
	if err != nil {
		d.logger.Warn("dropping malformed push payload", "error", err)
		return nil, err
	}

	// State updates ride along regardless of rendering.
	d.applyCacheUpdates(payload)

	n := d.render(payload)

	d.mu.Lock()
	switch {
	case d.muted[n.Type]:
		n.Suppressed = "muted"
	case d.quietNowLocked() && !n.HighPriority:
		n.Suppressed = "quiet-hours"
	}
	d.recent = append(d.recent, n)
	if len(d.recent) > recentLimit {
		d.recent = d.recent[len(d.recent)-recentLimit:]
	}
	subs := make([]func(Notification), len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	if n.Suppressed != "" {
		d.logger.Info("notification suppressed", "id", n.ID, "type", n.Type, "reason", n.Suppressed)
		return &n, nil
	}

	d.logger.Info("notification dispatched", "id", n.ID, "type", n.Type, "title", n.Title)
	for _, fn := range subs {
		fn(n)
	}
	return &n, nil
}

// Interact resolves a click or action button press on a previously
// dispatched notification into a navigation intent: explicit action
// mapping first, then the payload's embedded URL, then the default
// landing page.
func (d *Dispatcher) Interact(id, actionID string) (NavigationIntent, error) {
	d.mu.Lock()
	var found *Notification
	for i := range d.recent {
		if d.recent[i].ID == id {
			found = &d.recent[i]
			break
		}
	}
	landing := d.landing
	d.mu.Unlock()

	if found == nil {
		return NavigationIntent{}, fmt.Errorf("notify: unknown notification %q", id)
	}

	target := landing
	if url, ok := found.ActionURLs[actionID]; ok && url != "" {
		target = url
	} else if url, ok := found.Data["url"].(string); ok && url != "" {
		target = url
	}

	intent := NavigationIntent{Target: target, Action: "open"}
	if d.views != nil {
		if viewID, ok := d.views.Find(target); ok {
			intent.Action = "focus"
			intent.ViewID = viewID
		}
	}

	d.logger.Info("notification interaction",
		"id", id, "actionId", actionID, "target", target, "action", intent.Action)
	return intent, nil
}

// Recent returns up to n most recent notifications, newest last.
func (d *Dispatcher) Recent(n int) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.recent) {
		n = len(d.recent)
	}
	out := make([]Notification, n)
	copy(out, d.recent[len(d.recent)-n:])
	return out
}

// render merges the payload over its type's template and applies sound and
// vibration preferences.
func (d *Dispatcher) render(p *Payload) Notification {
	tpl := d.templates.Lookup(p.Type)

	n := Notification{
		ID:                 uuid.NewString(),
		Type:               p.Type,
		Title:              p.Title,
		Body:               p.Body,
		Icon:               p.Icon,
		Badge:              p.Badge,
		Image:              p.Image,
		Tag:                p.Tag,
		Data:               p.Data,
		HighPriority:       tpl.HighPriority,
		RequireInteraction: p.RequireInteraction,
		Renotify:           p.Renotify,
		ReceivedAt:         d.now(),
	}
	if n.Type == "" {
		n.Type = "generic"
	}
	if n.Title == "" {
		n.Title = tpl.Title
	}
	if n.Icon == "" {
		n.Icon = tpl.Icon
	}
	if n.Badge == "" {
		n.Badge = tpl.Badge
	}

	if len(p.Actions) > 0 {
		n.Actions = p.Actions
	} else {
		for _, a := range tpl.Actions {
			n.Actions = append(n.Actions, Action{Action: a.Action, Title: a.Title, Icon: a.Icon})
		}
	}

	n.ActionURLs = make(map[string]string)
	for _, a := range tpl.Actions {
		if a.URL != "" {
			n.ActionURLs[a.Action] = a.URL
		}
	}
	for id, url := range p.actionURLs() {
		n.ActionURLs[id] = url
	}

	d.mu.Lock()
	prefs := d.prefs
	d.mu.Unlock()
	if !p.Silent {
		n.Sound = prefs.Sound
		if prefs.Vibration {
			n.Vibrate = p.Vibrate
		}
	}
	return n
}

// applyCacheUpdates force-inserts embedded state entries into the api
// namespace, the same write CACHE_RESOURCE performs.
func (d *Dispatcher) applyCacheUpdates(p *Payload) {
	updates := p.cacheUpdates()
	if len(updates) == 0 || d.cache == nil {
		return
	}
	for _, u := range updates {
		d.cache.Store(config.NamespaceAPI, u.key, cache.Entry{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   u.value,
		})
	}
	d.logger.Debug("applied embedded cache updates", "count", len(updates))
}

// quietNowLocked reports whether the current local time falls inside the
// quiet window. A window whose start is after its end crosses midnight.
func (d *Dispatcher) quietNowLocked() bool {
	start, end := d.quiet.Start, d.quiet.End
	if start == "" || end == "" {
		return false
	}
	startT, err := time.Parse("15:04", start)
	if err != nil {
		return false
	}
	endT, err := time.Parse("15:04", end)
	if err != nil {
		return false
	}

	now := d.now()
	minutes := now.Hour()*60 + now.Minute()
	startM := startT.Hour()*60 + startT.Minute()
	endM := endT.Hour()*60 + endT.Minute()

	if startM <= endM {
		return minutes >= startM && minutes < endM
	}
	return minutes >= startM || minutes < endM
}
