package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
)

// Request is an intercepted GET request with an absolute URL.
type Request struct {
	URL    *url.URL
	Header http.Header
}

// Key returns the cache key of the request.
func (r *Request) Key() string {
	return cachestore.RequestKey(http.MethodGet, r.URL)
}

// Fetcher performs the network half of a strategy. An error means the network
// could not be reached; any HTTP status, including 5xx, is a response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cachestore.Response, error)
}

// hopHeaders are dropped when forwarding a request upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches over an http.Client.
type HTTPFetcher struct {
	client *http.Client
}

// FetcherOption customises NewHTTPFetcher.
type FetcherOption func(*fetcherOptions)

type fetcherOptions struct {
	followRedirects bool
}

// FollowRedirects keeps the client's redirect policy. The final response is
// returned for the original URL.
func FollowRedirects() FetcherOption {
	return func(o *fetcherOptions) { o.followRedirects = true }
}

// NewHTTPFetcher returns a fetcher using a copy of client, or of
// http.DefaultClient when nil. Redirects are returned as-is unless
// FollowRedirects is given, so a 3xx is never stored under the key of the
// URL that redirected.
func NewHTTPFetcher(client *http.Client, opts ...FetcherOption) *HTTPFetcher {
	var o fetcherOptions
	for _, opt := range opts {
		opt(&o)
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	if !o.followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &HTTPFetcher{client: &c}
}

// Fetch issues a GET and buffers the whole body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cachestore.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL.String(), http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("strategy").
			Category(errors.CategoryValidation).
			Context("url", req.URL.String()).
			Build()
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
		for _, h := range hopHeaders {
			httpReq.Header.Del(h)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(err).
			Component("strategy").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("strategy").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.String()).
			Build()
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")

	return &cachestore.Response{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}
