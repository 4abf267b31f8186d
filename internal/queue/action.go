// Package queue is the durable offline action queue: mutating requests that
// could not reach the network, kept FIFO per category until a replay
// succeeds. Contents survive process restart; losing an enqueued mutation
// silently is never acceptable, so persistence errors surface to callers.
package queue

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sync categories. Each drains independently; order is FIFO within a
// category only.
const (
	CategoryBoardSync      = "board-sync"
	CategoryCardSync       = "card-sync"
	CategoryUserSync       = "user-sync"
	CategoryImageUpload    = "image-upload"
	CategoryGenericOffline = "generic-offline"
)

// Categories lists all known category tags in drain order.
func Categories() []string {
	return []string{
		CategoryBoardSync,
		CategoryCardSync,
		CategoryUserSync,
		CategoryImageUpload,
		CategoryGenericOffline,
	}
}

// Action is one deferred mutating request. Owned by the queue; the sync
// coordinator replays snapshots and requests removal by ID.
type Action struct {
	ID         string      `json:"id"`
	Category   string      `json:"category"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Body       []byte      `json:"body,omitempty"`
	Header     http.Header `json:"headers,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// categoryPatterns maps request paths to categories, most specific first so
// /boards/5/cards lands in card-sync rather than board-sync.
var categoryPatterns = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)/(uploads?|attachments?|images?)(/|$)`), CategoryImageUpload},
	{regexp.MustCompile(`(?i)/(cards?|tasks?|checklists?|comments?)(/|$)`), CategoryCardSync},
	{regexp.MustCompile(`(?i)/boards?(/|$)`), CategoryBoardSync},
	{regexp.MustCompile(`(?i)/(users?|profile|preferences|settings)(/|$)`), CategoryUserSync},
}

// Categorize derives the sync category for a mutating request.
func Categorize(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, p := range categoryPatterns {
		if p.re.MatchString(path) {
			return p.category
		}
	}
	return CategoryGenericOffline
}

// newActionID builds a timestamp-derived, collision-resistant identifier.
// The millisecond prefix keeps IDs roughly sortable; the uuid suffix breaks
// same-millisecond ties.
func newActionID(at time.Time) string {
	return fmt.Sprintf("%d-%s", at.UnixMilli(), uuid.NewString()[:8])
}
