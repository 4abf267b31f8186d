// Package strategy decides how each intercepted request is served: the
// classifier maps (method, URL) to a namespace and strategy through a fixed
// precedence table, and the executor runs that strategy against the cache
// and the network.
package strategy

import (
	"net/http"
	"net/url"

	"github.com/kanbanhq/syncbox/internal/cache"
)

// Request is one intercepted outbound call, already rebased onto the origin.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte

	// Navigation marks requests that expect an HTML document.
	Navigation bool
}

// Key is the cache identity of the request: origin-relative path plus query.
func (r *Request) Key() string {
	key := r.URL.Path
	if key == "" {
		key = "/"
	}
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

// Response is what the executor hands back to the proxy.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Source records where the body came from: network, cache, stale-cache,
	// offline-fallback, or queued.
	Source string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func responseFromEntry(e cache.Entry, source string) *Response {
	header := e.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status: e.Status,
		Header: header.Clone(),
		Body:   e.Body,
		Source: source,
	}
}

func entryFromResponse(resp *Response) cache.Entry {
	return cache.Entry{
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   resp.Body,
	}
}
