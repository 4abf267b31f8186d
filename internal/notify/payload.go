// Package notify renders inbound push payloads as local notifications and
// routes user interactions back into navigation intents for the client
// shell.
package notify

import (
	"encoding/json"
	"fmt"
)

// Payload is the inbound push wire schema. Data is opaque to the renderer
// except for the keys the interaction router and the state-update hook
// understand.
type Payload struct {
	Type               string         `json:"type,omitempty"`
	Title              string         `json:"title"`
	Body               string         `json:"body,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Image              string         `json:"image,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
	Silent             bool           `json:"silent,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
	Renotify           bool           `json:"renotify,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
}

// Action is one named button on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

func parsePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("notify: malformed payload: %w", err)
	}
	if p.Title == "" && p.Type == "" {
		return nil, fmt.Errorf("notify: payload carries neither title nor type")
	}
	return &p, nil
}

// embeddedURL pulls the navigation target the sender tucked into data.
func (p *Payload) embeddedURL() string {
	if p.Data == nil {
		return ""
	}
	if u, ok := p.Data["url"].(string); ok {
		return u
	}
	return ""
}

// actionURLs pulls the per-action navigation mapping from data.
func (p *Payload) actionURLs() map[string]string {
	if p.Data == nil {
		return nil
	}
	raw, ok := p.Data["actionUrls"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for id, v := range raw {
		if u, ok := v.(string); ok {
			out[id] = u
		}
	}
	return out
}

// cacheUpdates pulls embedded state updates: entries the sender wants
// force-inserted into the api cache even when rendering is suppressed.
func (p *Payload) cacheUpdates() []cacheUpdate {
	if p.Data == nil {
		return nil
	}
	raw, ok := p.Data["cacheUpdates"].([]any)
	if !ok {
		return nil
	}
	var updates []cacheUpdate
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := entry["key"].(string)
		if key == "" {
			continue
		}
		value, err := json.Marshal(entry["value"])
		if err != nil {
			continue
		}
		updates = append(updates, cacheUpdate{key: key, value: value})
	}
	return updates
}

type cacheUpdate struct {
	key   string
	value []byte
}
