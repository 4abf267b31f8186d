package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kanbanhq/syncbox/internal/netstate"
)

// Fetcher performs the actual network call for strategies and queue replay.
type Fetcher interface {
	// Fetch returns a Response for any completed HTTP exchange, whatever the
	// status; an error means the transport failed and nothing was received.
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher is the production Fetcher. Every outcome is reported to the
// connectivity monitor: transport failures push it offline, completed
// exchanges (any status) pull it back online.
type HTTPFetcher struct {
	client  *http.Client
	monitor *netstate.Monitor
}

func NewHTTPFetcher(monitor *netstate.Monitor) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		monitor: monitor,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("strategy: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		f.monitor.ReportFailure(err)
		return nil, fmt.Errorf("strategy: fetch %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		f.monitor.ReportFailure(err)
		return nil, fmt.Errorf("strategy: read body %s: %w", req.URL, err)
	}
	f.monitor.ReportSuccess()

	header := resp.Header.Clone()
	// The stored body length is authoritative; the proxy recomputes it.
	header.Del("Content-Length")

	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   raw,
		Source: "network",
	}, nil
}
