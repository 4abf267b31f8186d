package proxy

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/strategy"
)

// precacheParallelism bounds concurrent warm-up fetches so startup does not
// stampede the origin.
const precacheParallelism = 4

// Precache warms the static namespace with the configured app-shell paths,
// the offline page among them. Paths already fresh in the cache are left
// alone; failures are logged and skipped, never fatal. Returns how many
// paths ended up served from cache or network.
func (h *Handler) Precache(ctx context.Context, paths []string) int {
	var cached atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheParallelism)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			target, err := url.Parse(path)
			if err != nil {
				h.logger.Warn("precache path unparseable", "path", path, "error", err)
				return nil
			}

			req := &strategy.Request{
				Method: http.MethodGet,
				URL: &url.URL{
					Scheme:   h.origin.Scheme,
					Host:     h.origin.Host,
					Path:     target.Path,
					RawQuery: target.RawQuery,
				},
				Header: http.Header{"Accept-Encoding": []string{"identity"}},
			}
			dec := strategy.Decision{
				Namespace: config.NamespaceStatic,
				Strategy:  strategy.CacheFirst,
				Rule:      "precache",
			}

			resp, err := h.executor.Execute(ctx, dec, req)
			if err != nil {
				h.logger.Warn("precache fetch failed", "path", path, "error", err)
				return nil
			}
			if !resp.OK() {
				h.logger.Warn("precache rejected", "path", path, "status", resp.Status, "source", resp.Source)
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	g.Wait()

	h.logger.Info("precache complete", "requested", len(paths), "cached", cached.Load())
	return int(cached.Load())
}
