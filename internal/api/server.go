// Package api exposes the daemon's control surface: a message-passing
// command endpoint, diagnostic status endpoints, and a websocket event hub
// that doubles as the registry of open client views.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kanbanhq/syncbox/internal/cache"
	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/netstate"
	"github.com/kanbanhq/syncbox/internal/notify"
	"github.com/kanbanhq/syncbox/internal/queue"
	"github.com/kanbanhq/syncbox/internal/syncer"
)

const version = "0.1.0"

// Message is the command envelope accepted on POST /api/message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server is the loopback control server. It never sees board traffic; the
// client shell and diagnostics talk to it directly.
type Server struct {
	listen     string
	cache      *cache.Manager
	queue      *queue.Queue
	coord      *syncer.Coordinator
	monitor    *netstate.Monitor
	dispatcher *notify.Dispatcher
	hub        *Hub
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer wires the control surface to the daemon's components.
func NewServer(
	listen string,
	cacheMgr *cache.Manager,
	q *queue.Queue,
	coord *syncer.Coordinator,
	monitor *netstate.Monitor,
	dispatcher *notify.Dispatcher,
	hub *Hub,
	logger *slog.Logger,
) *Server {
	return &Server{
		listen:     listen,
		cache:      cacheMgr,
		queue:      q,
		coord:      coord,
		monitor:    monitor,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger.With("component", "api"),
		startedAt:  time.Now(),
	}
}

// routes builds the handler tree, middleware included.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/api/events", s.hub)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the control server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listen,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("control server starting", "listen", s.listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down control server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleMessage decodes the command envelope and dispatches on its type.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed message envelope", http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case "CACHE_RESOURCE":
		s.handleCacheResource(w, msg.Payload)
	case "CLEAR_CACHE":
		s.handleClearCache(w, msg.Payload)
	case "GET_CACHE_STATUS":
		s.respondJSON(w, s.cache.Status())
	case "QUEUE_OFFLINE_ACTION":
		s.handleQueueAction(w, r, msg.Payload)
	case "TRIGGER_SYNC":
		s.handleTriggerSync(w, r, msg.Payload)
	case "GET_SYNC_STATUS":
		s.handleSyncStatus(w, r)
	case "SET_NETWORK_STATE":
		s.handleSetNetworkState(w, msg.Payload)
	case "NOTIFICATION_CLICK":
		s.handleNotificationClick(w, msg.Payload)
	default:
		http.Error(w, "unknown message type: "+msg.Type, http.StatusBadRequest)
	}
}

// handleCacheResource force-inserts a value into the api namespace, the
// same write a push cache update performs.
func (s *Server) handleCacheResource(w http.ResponseWriter, payload json.RawMessage) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Key == "" {
		http.Error(w, "cache resource needs key and value", http.StatusBadRequest)
		return
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	s.cache.Store(config.NamespaceAPI, req.Key, cache.Entry{
		Status:   http.StatusOK,
		Header:   header,
		Body:     req.Value,
		StoredAt: time.Now(),
	})
	s.logger.Info("resource cached by command", "key", req.Key)

	s.respondJSON(w, map[string]any{"cached": req.Key})
}

// handleClearCache drops every namespace whose name contains the hint;
// an empty hint clears everything.
func (s *Server) handleClearCache(w http.ResponseWriter, payload json.RawMessage) {
	var req struct {
		NamespaceHint string `json:"namespaceHint"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			http.Error(w, "malformed clear cache payload", http.StatusBadRequest)
			return
		}
	}

	cleared := s.cache.Clear(req.NamespaceHint)
	s.logger.Info("cache cleared by command", "hint", req.NamespaceHint, "namespaces", cleared)

	s.respondJSON(w, map[string]any{"cleared": cleared})
}

// handleQueueAction enqueues an offline action on behalf of the client,
// bypassing the proxy path.
func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Body    string            `json:"body,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Method == "" || req.URL == "" {
		http.Error(w, "offline action needs method and url", http.StatusBadRequest)
		return
	}

	header := http.Header{}
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	action, err := s.queue.Enqueue(r.Context(), req.Method, req.URL, []byte(req.Body), header)
	if err != nil {
		s.logger.Error("manual enqueue failed", "url", req.URL, "error", err)
		http.Error(w, "failed to queue action", http.StatusInternalServerError)
		return
	}

	s.respondJSON(w, map[string]any{
		"queued":   true,
		"id":       action.ID,
		"category": action.Category,
	})
}

// handleTriggerSync drains one category, or every category when none is
// named. A drain already in progress for the named category is a conflict.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req struct {
		Category string `json:"category,omitempty"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			http.Error(w, "malformed trigger sync payload", http.StatusBadRequest)
			return
		}
	}

	if req.Category != "" {
		pass, err := s.coord.DrainCategory(r.Context(), req.Category, "manual")
		if errors.Is(err, syncer.ErrDraining) {
			http.Error(w, "category is already draining", http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.respondJSON(w, map[string]any{"passes": []syncer.PassResult{pass}})
		return
	}

	passes, err := s.coord.DrainAll(r.Context(), "manual")
	if err != nil {
		s.logger.Error("manual sync failed", "error", err)
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]any{"passes": passes})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.Status(r.Context())
	if err != nil {
		s.logger.Error("sync status failed", "error", err)
		http.Error(w, "failed to read sync status", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, status)
}

// handleSetNetworkState applies host-declared connectivity; the monitor
// notifies subscribers, which is what kicks off a drain on reconnect.
func (s *Server) handleSetNetworkState(w http.ResponseWriter, payload json.RawMessage) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Online == nil {
		http.Error(w, "network state needs online flag", http.StatusBadRequest)
		return
	}

	s.monitor.SetOnline(*req.Online)
	s.respondJSON(w, map[string]any{"online": *req.Online})
}

// handleNotificationClick resolves an interaction to a navigation intent
// and publishes it so the client shell can act on it.
func (s *Server) handleNotificationClick(w http.ResponseWriter, payload json.RawMessage) {
	var req struct {
		ID     string `json:"id"`
		Action string `json:"action,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		http.Error(w, "notification click needs id", http.StatusBadRequest)
		return
	}

	intent, err := s.dispatcher.Interact(req.ID, req.Action)
	if err != nil {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}

	s.hub.Broadcast(Event{Type: "intent", Payload: intent})
	s.respondJSON(w, intent)
}

// handleStatus returns the combined snapshot the diagnostics TUI renders.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		s.logger.Error("queue counts failed", "error", err)
		http.Error(w, "failed to read queue", http.StatusInternalServerError)
		return
	}
	syncStatus, err := s.coord.Status(r.Context())
	if err != nil {
		s.logger.Error("sync status failed", "error", err)
		http.Error(w, "failed to read sync status", http.StatusInternalServerError)
		return
	}

	status := map[string]any{
		"version":       version,
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"online":        s.monitor.Online(),
		"cache":         s.cache.Status(),
		"queue":         counts,
		"sync":          syncStatus,
		"notifications": s.dispatcher.Recent(10),
		"clients":       s.hub.Clients(),
	}

	s.respondJSON(w, status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
