package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Event is one frame pushed to connected clients. Type is one of
// "notification", "intent", "sync", "netstate".
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// viewFrame is the only client→server message: it updates the URL the
// connection claims to be showing.
type viewFrame struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ClientView is the introspection view of one connected client.
type ClientView struct {
	ClientID    string    `json:"clientId"`
	URL         string    `json:"url"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// hubClient tracks an active event connection. URL is mutable; the client
// reports navigation through view frames.
type hubClient struct {
	conn        *websocket.Conn
	id          string
	url         string
	connectedAt time.Time
}

// Hub fans events out to connected websocket clients and keeps a registry
// of which URL each client is showing. That registry answers Find for
// notification interaction routing: a client already on the target gets
// focused instead of a new view being opened.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates an empty Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and keeps the connection
// registered until the client disconnects. Query params: clientId (one is
// generated when absent) and url (the view the client starts on).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // loopback control surface; any Origin is fine
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	c := &hubClient{
		conn:        conn,
		id:          clientID,
		url:         r.URL.Query().Get("url"),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("client connected", "clientId", clientID, "url", c.url, "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Info("client disconnected", "clientId", clientID)
	}()

	for {
		var frame viewFrame
		if err := wsjson.Read(r.Context(), conn, &frame); err != nil {
			// Client went away or the server is shutting down.
			h.logger.Debug("event connection read ended", "clientId", clientID, "error", err)
			return
		}

		switch frame.Type {
		case "view":
			h.mu.Lock()
			c.url = frame.URL
			h.mu.Unlock()
			h.logger.Debug("client view updated", "clientId", clientID, "url", frame.URL)
		default:
			h.logger.Debug("ignoring unknown frame", "clientId", clientID, "type", frame.Type)
		}
	}
}

// Broadcast sends the event to every connected client. Write failures are
// logged and left for the client's read loop to clean up.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	conns := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := wsjson.Write(ctx, c.conn, event); err != nil {
			h.logger.Debug("event write failed", "clientId", c.id, "error", err)
		}
		cancel()
	}
}

// Find reports a connected client whose registered URL shows target.
// It satisfies the dispatcher's view registry: a hit means the interaction
// should focus that client rather than open a new view.
func (h *Hub) Find(target string) (string, bool) {
	want := normalizePath(target)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if normalizePath(c.url) == want {
			return c.id, true
		}
	}
	return "", false
}

// Clients returns a snapshot of the connected views for diagnostics.
func (h *Hub) Clients() []ClientView {
	h.mu.RLock()
	defer h.mu.RUnlock()

	views := make([]ClientView, 0, len(h.clients))
	for c := range h.clients {
		views = append(views, ClientView{
			ClientID:    c.id,
			URL:         c.url,
			ConnectedAt: c.connectedAt,
		})
	}
	return views
}

// normalizePath reduces a registered URL or interaction target to a bare
// path so "/boards/7", "/boards/7/" and "https://app/boards/7?tab=1" all
// compare equal.
func normalizePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
