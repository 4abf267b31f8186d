// Package proxy is the interception surface: the client shell points its
// HTTP traffic at this loopback server, and every request is rebased onto
// the origin, classified, and served by a caching strategy.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kanbanhq/syncbox/internal/strategy"
)

// maxBodyBytes caps buffered request bodies; image uploads are the largest
// expected payload.
const maxBodyBytes = 32 << 20

// hopByHop headers are connection-scoped and never forwarded or replayed
// from the cache.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler intercepts one request at a time: buffer the body, rebase the URL
// onto the origin, classify, execute. The executor owns every fallback
// except the two terminal failures mapped here: a read path with nothing
// to serve becomes 502, a mutation the queue could not persist becomes 503.
type Handler struct {
	origin     *url.URL
	classifier *strategy.Classifier
	executor   *strategy.Executor
	logger     *slog.Logger
}

func NewHandler(origin string, classifier *strategy.Classifier, executor *strategy.Executor, logger *slog.Logger) (*Handler, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, errors.New("proxy: invalid origin URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("proxy: origin must be an absolute URL")
	}
	return &Handler{
		origin:     u,
		classifier: classifier,
		executor:   executor,
		logger:     logger.With("component", "proxy"),
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body", err)
		return
	}

	req := &strategy.Request{
		Method:     r.Method,
		URL:        h.rebase(r.URL),
		Header:     sanitizeHeader(r.Header),
		Body:       body,
		Navigation: isNavigation(r),
	}
	// Cached bodies are stored and replayed unencoded.
	req.Header.Set("Accept-Encoding", "identity")

	dec := h.classifier.Classify(req)
	resp, err := h.executor.Execute(r.Context(), dec, req)
	if err != nil {
		if dec.Strategy == strategy.NetworkOnly {
			h.logger.Error("mutation lost: queue write failed", "method", r.Method, "path", r.URL.Path, "error", err)
			writeError(w, http.StatusServiceUnavailable, "offline queue unavailable", err)
			return
		}
		h.logger.Warn("no response and no fallback", "method", r.Method, "path", r.URL.Path, "rule", dec.Rule, "error", err)
		writeError(w, http.StatusBadGateway, "bad gateway", err)
		return
	}

	writeResponse(w, resp)
}

// rebase swaps the request target onto the origin, keeping path and query.
func (h *Handler) rebase(u *url.URL) *url.URL {
	return &url.URL{
		Scheme:   h.origin.Scheme,
		Host:     h.origin.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
}

// isNavigation marks GETs that expect an HTML document. Sec-Fetch-Mode is
// authoritative where present; the Accept header covers older shells.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func sanitizeHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range hopByHop {
		out.Del(name)
	}
	return out
}

func writeResponse(w http.ResponseWriter, resp *strategy.Response) {
	header := w.Header()
	for k, vs := range sanitizeHeader(resp.Header) {
		header[k] = vs
	}
	header.Set("X-Syncbox-Source", resp.Source)
	header.Del("Content-Length")
	if len(resp.Body) > 0 {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body, _ := json.Marshal(map[string]string{
		"error":  msg,
		"detail": err.Error(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// Server runs the interception handler on its loopback listener.
type Server struct {
	listen     string
	handler    *Handler
	logger     *slog.Logger
	httpServer *http.Server
}

func NewServer(listen string, handler *Handler, logger *slog.Logger) *Server {
	return &Server{
		listen:  listen,
		handler: handler,
		logger:  logger.With("component", "proxy"),
	}
}

// Start runs the proxy until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listen,
		Handler:     s.handler,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("interception proxy starting", "listen", s.listen, "origin", s.handler.origin.String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down interception proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
