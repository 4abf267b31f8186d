package notify

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Template supplies per-type defaults merged under an inbound payload:
// icon, badge, action buttons, and whether the type rides through quiet
// hours.
type Template struct {
	Type         string           `toml:"type"`
	Title        string           `toml:"title"`
	Icon         string           `toml:"icon"`
	Badge        string           `toml:"badge"`
	HighPriority bool             `toml:"high_priority"`
	Actions      []TemplateAction `toml:"actions"`
}

// TemplateAction is a default button plus its navigation target.
type TemplateAction struct {
	Action string `toml:"action"`
	Title  string `toml:"title"`
	Icon   string `toml:"icon"`
	URL    string `toml:"url"`
}

// defaultTemplates covers the notification types the kanban backend sends.
// A deployment overrides individual types through notifications.templatesPath.
const defaultTemplates = `
[[templates]]
type = "generic"
title = "Kanban"
icon = "/icons/notification.png"
badge = "/icons/badge.png"

[[templates]]
type = "card-assigned"
title = "Card assigned to you"
icon = "/icons/card.png"
badge = "/icons/badge.png"

  [[templates.actions]]
  action = "open-card"
  title = "Open card"

  [[templates.actions]]
  action = "dismiss"
  title = "Dismiss"

[[templates]]
type = "card-due"
title = "Card due soon"
icon = "/icons/due.png"
badge = "/icons/badge.png"
high_priority = true

  [[templates.actions]]
  action = "open-card"
  title = "Open card"

[[templates]]
type = "comment-added"
title = "New comment"
icon = "/icons/comment.png"
badge = "/icons/badge.png"

  [[templates.actions]]
  action = "open-card"
  title = "View"

[[templates]]
type = "board-invite"
title = "Board invitation"
icon = "/icons/board.png"
badge = "/icons/badge.png"
high_priority = true

  [[templates.actions]]
  action = "accept"
  title = "Accept"
  url = "/invites"

  [[templates.actions]]
  action = "dismiss"
  title = "Later"

[[templates]]
type = "sync-complete"
title = "Changes synced"
icon = "/icons/sync.png"
badge = "/icons/badge.png"
`

type templatesFile struct {
	Templates []Template `toml:"templates"`
}

// Registry resolves a payload type to its template.
type Registry struct {
	templates map[string]Template
	logger    *slog.Logger
}

// NewRegistry parses the embedded defaults, then overlays per-type
// templates from path when it exists.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		templates: make(map[string]Template),
		logger:    logger.With("component", "notify"),
	}

	var defaults templatesFile
	if err := toml.Unmarshal([]byte(defaultTemplates), &defaults); err != nil {
		return nil, fmt.Errorf("notify: parse embedded templates: %w", err)
	}
	for _, t := range defaults.Templates {
		r.templates[t.Type] = t
	}

	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("template file does not exist, using embedded templates", "path", path)
			return r, nil
		}
		return nil, fmt.Errorf("notify: read templates: %w", err)
	}

	var file templatesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("notify: parse templates %s: %w", path, err)
	}
	for _, t := range file.Templates {
		if t.Type == "" {
			r.logger.Warn("skipping template without a type", "path", path)
			continue
		}
		r.templates[t.Type] = t
		r.logger.Info("loaded notification template", "type", t.Type)
	}
	return r, nil
}

// Lookup returns the template for a type, falling back to generic.
func (r *Registry) Lookup(typ string) Template {
	if t, ok := r.templates[typ]; ok {
		return t
	}
	return r.templates["generic"]
}

// Types lists the registered template types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.templates))
	for typ := range r.templates {
		out = append(out, typ)
	}
	return out
}
