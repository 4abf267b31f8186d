package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kanbanhq/syncbox/internal/cache"
	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/netstate"
	"github.com/kanbanhq/syncbox/internal/queue"
)

// Enqueuer hands failed mutations to the offline action queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, method, rawURL string, body []byte, header http.Header) (queue.Action, error)
}

// fallbackPage is served to navigations when neither the network nor the
// precached offline document can help.
const fallbackPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>Your changes are saved and will sync when the connection returns.</p></body>
</html>
`

// Executor runs the classified strategy for a request. Results of blocking
// fetches are stored before returning so an immediate second call sees
// them; background revalidation and eviction never delay the caller.
type Executor struct {
	cache   *cache.Manager
	fetcher Fetcher
	queue   Enqueuer
	monitor *netstate.Monitor
	logger  *slog.Logger

	// offlinePath keys the designated offline document in the static
	// namespace (precached at startup).
	offlinePath string

	bgSem chan struct{}
	wg    sync.WaitGroup
}

func NewExecutor(cacheMgr *cache.Manager, fetcher Fetcher, q Enqueuer, monitor *netstate.Monitor, offlinePath string, logger *slog.Logger) *Executor {
	return &Executor{
		cache:       cacheMgr,
		fetcher:     fetcher,
		queue:       q,
		monitor:     monitor,
		logger:      logger.With("component", "strategy"),
		offlinePath: offlinePath,
		bgSem:       make(chan struct{}, 16),
	}
}

// Execute serves the request according to the decision.
func (e *Executor) Execute(ctx context.Context, dec Decision, req *Request) (*Response, error) {
	e.logger.Debug("executing strategy", "rule", dec.Rule, "strategy", dec.Strategy.String(), "namespace", dec.Namespace, "key", req.Key())

	switch dec.Strategy {
	case NetworkOnly:
		return e.passThrough(ctx, req)
	case CacheFirst:
		return e.cacheFirst(ctx, dec.Namespace, req)
	case NetworkFirst:
		return e.networkFirst(ctx, dec.Namespace, req)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, dec.Namespace, req)
	case NavigationFallback:
		return e.navigationFallback(ctx, req)
	default:
		return e.passThrough(ctx, req)
	}
}

// Close waits for in-flight background revalidations.
func (e *Executor) Close() {
	e.wg.Wait()
}

// passThrough sends mutations straight to the network. A transport failure
// (or a known-offline state) queues the action and answers 202 so the client
// can reconcile once the replay lands; an HTTP error response is the
// origin's answer and passes through untouched. Enqueue failures surface:
// dropping a mutation silently would break the durability contract.
func (e *Executor) passThrough(ctx context.Context, req *Request) (*Response, error) {
	if e.monitor.Online() {
		resp, err := e.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		e.logger.Info("mutation failed, queueing", "method", req.Method, "url", req.URL.String(), "error", err)
	} else {
		e.logger.Info("offline, queueing mutation", "method", req.Method, "url", req.URL.String())
	}

	action, err := e.queue.Enqueue(ctx, req.Method, req.URL.String(), req.Body, req.Header)
	if err != nil {
		return nil, err
	}
	return queuedResponse(action), nil
}

func (e *Executor) cacheFirst(ctx context.Context, ns string, req *Request) (*Response, error) {
	key := req.Key()
	entry, freshness := e.cache.Lookup(ns, key)
	if freshness == cache.Fresh {
		return responseFromEntry(entry, "cache"), nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.OK() {
		e.cache.Store(ns, key, entryFromResponse(resp))
		return resp, nil
	}

	// Network failed: an expired entry beats nothing.
	if freshness != cache.Miss {
		return responseFromEntry(entry, "stale-cache"), nil
	}
	if req.Navigation {
		return e.offlineDocument(), nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Executor) networkFirst(ctx context.Context, ns string, req *Request) (*Response, error) {
	key := req.Key()

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.OK() {
		e.cache.Store(ns, key, entryFromResponse(resp))
		return resp, nil
	}

	if entry, freshness := e.cache.Lookup(ns, key); freshness != cache.Miss {
		return responseFromEntry(entry, "stale-cache"), nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// staleWhileRevalidate serves a fresh entry immediately and refreshes it in
// the background. An expired entry no longer counts as present, so the call
// blocks on the network like a miss, still falling back to the expired entry
// if the network fails.
func (e *Executor) staleWhileRevalidate(ctx context.Context, ns string, req *Request) (*Response, error) {
	key := req.Key()
	entry, freshness := e.cache.Lookup(ns, key)
	if freshness == cache.Fresh {
		e.revalidate(ns, req.clone())
		return responseFromEntry(entry, "cache"), nil
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.OK() {
		e.cache.Store(ns, key, entryFromResponse(resp))
		return resp, nil
	}

	if freshness != cache.Miss {
		return responseFromEntry(entry, "stale-cache"), nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// navigationFallback never writes the cache: navigations are served live,
// and offline they fall back to the precached document for the exact path,
// then the designated offline page.
func (e *Executor) navigationFallback(ctx context.Context, req *Request) (*Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.OK() {
		return resp, nil
	}

	if entry, freshness := e.cache.Lookup(config.NamespaceStatic, req.Key()); freshness == cache.Fresh {
		return responseFromEntry(entry, "cache"), nil
	}
	return e.offlineDocument(), nil
}

// revalidate refreshes one entry on a background goroutine. Capacity is
// bounded; at the limit the refresh is skipped (the entry is still fresh,
// another read will retry). The fetch is detached from the caller's context:
// a refresh that outlives its caller just updates the cache for future
// reads. Races between concurrent refreshes are last-writer-wins.
func (e *Executor) revalidate(ns string, req *Request) {
	select {
	case e.bgSem <- struct{}{}:
	default:
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.bgSem }()

		resp, err := e.fetcher.Fetch(context.Background(), req)
		if err != nil {
			e.logger.Debug("background revalidation failed", "key", req.Key(), "error", err)
			return
		}
		if !resp.OK() {
			e.logger.Debug("background revalidation rejected", "key", req.Key(), "status", resp.Status)
			return
		}
		e.cache.Store(ns, req.Key(), entryFromResponse(resp))
	}()
}

// offlineDocument serves the precached offline page, falling back to a
// built-in one.
func (e *Executor) offlineDocument() *Response {
	if entry, freshness := e.cache.Lookup(config.NamespaceStatic, e.offlinePath); freshness != cache.Miss {
		return responseFromEntry(entry, "offline-fallback")
	}
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(fallbackPage),
		Source: "offline-fallback",
	}
}

func queuedResponse(action queue.Action) *Response {
	body, _ := json.Marshal(map[string]any{
		"queued":   true,
		"id":       action.ID,
		"category": action.Category,
	})
	return &Response{
		Status: http.StatusAccepted,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
		Source: "queued",
	}
}

// clone detaches the request for background use; the body is not copied
// (revalidations are GETs).
func (r *Request) clone() *Request {
	u := *r.URL
	return &Request{
		Method:     r.Method,
		URL:        &u,
		Header:     r.Header.Clone(),
		Navigation: r.Navigation,
	}
}
