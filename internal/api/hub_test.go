package api

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// dialHub connects a websocket client to the hub test server.
func dialHub(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, context.CancelFunc) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if query != "" {
		url += "?" + query
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, cancel
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHubRegistersClientView(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "clientId=c1&url=/boards/7")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()

	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })

	id, ok := hub.Find("/boards/7")
	if !ok || id != "c1" {
		t.Errorf("Find(/boards/7) = %q, %v; want c1, true", id, ok)
	}
	if _, ok := hub.Find("/elsewhere"); ok {
		t.Error("Find(/elsewhere) reported a view that is not open")
	}
}

func TestHubGeneratesClientID(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "url=/")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()

	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })
	if hub.Clients()[0].ClientID == "" {
		t.Error("hub accepted a client without assigning an id")
	}
}

func TestHubViewFrameUpdatesURL(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "clientId=c1&url=/boards/7")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()
	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })

	ctx, writeCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer writeCancel()
	if err := wsjson.Write(ctx, conn, viewFrame{Type: "view", URL: "/boards/7/cards/3"}); err != nil {
		t.Fatalf("write view frame: %v", err)
	}

	waitFor(t, "view update", func() bool {
		id, ok := hub.Find("/boards/7/cards/3")
		return ok && id == "c1"
	})
	if _, ok := hub.Find("/boards/7"); ok {
		t.Error("old view URL still registered after navigation")
	}
}

func TestHubBroadcastReachesClient(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "clientId=c1&url=/")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()
	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })

	hub.Broadcast(Event{Type: "netstate", Payload: map[string]any{"online": false}})

	ctx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	var got Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if got.Type != "netstate" {
		t.Errorf("event type = %q, want netstate", got.Type)
	}
	payload, ok := got.Payload.(map[string]any)
	if !ok || payload["online"] != false {
		t.Errorf("payload = %#v, want online false", got.Payload)
	}
}

func TestHubFindNormalizesTarget(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "clientId=c1&url=/boards/7/")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()
	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })

	for _, target := range []string{
		"/boards/7",
		"/boards/7/",
		"https://app.example.com/boards/7?tab=activity",
	} {
		if id, ok := hub.Find(target); !ok || id != "c1" {
			t.Errorf("Find(%q) = %q, %v; want c1, true", target, id, ok)
		}
	}
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub(slog.Default())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, cancel := dialHub(t, ts, "clientId=c1&url=/")
	defer cancel()
	waitFor(t, "client registration", func() bool { return len(hub.Clients()) == 1 })

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "client removal", func() bool { return len(hub.Clients()) == 0 })

	if _, ok := hub.Find("/"); ok {
		t.Error("disconnected client still registered as a view")
	}
}
