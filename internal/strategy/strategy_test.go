package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const origin = "http://origin.test"

var names = cachestore.NewNames("menu-builder", "1.0.0")

type fixture struct {
	reg       *cachestore.MemoryRegistry
	transport *httpmock.MockTransport
	s         *Strategies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transport := httpmock.NewMockTransport()
	reg := cachestore.NewMemoryRegistry()
	offline, err := url.Parse(origin + "/offline")
	require.NoError(t, err)

	s := New(Options{
		Registry:   reg,
		Fetcher:    NewHTTPFetcher(&http.Client{Transport: transport}),
		Names:      names,
		APIPrefix:  "/api/",
		OfflineURL: offline,
	})
	t.Cleanup(s.Close)
	return &fixture{reg: reg, transport: transport, s: s}
}

func newRequest(t *testing.T, rawURL string, header http.Header) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	if header == nil {
		header = http.Header{}
	}
	return &Request{URL: u, Header: header}
}

func (f *fixture) seed(t *testing.T, partition, rawURL string, resp *cachestore.Response) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	p, err := f.reg.Open(t.Context(), partition)
	require.NoError(t, err)
	require.NoError(t, p.Put(t.Context(), cachestore.RequestKey(http.MethodGet, u), resp))
}

func (f *fixture) cached(t *testing.T, partition, rawURL string) (*cachestore.Response, bool) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	p, err := f.reg.Open(t.Context(), partition)
	require.NoError(t, err)
	resp, ok, err := p.Match(t.Context(), cachestore.RequestKey(http.MethodGet, u))
	require.NoError(t, err)
	return resp, ok
}

func TestCacheFirst_SecondCallServedWithoutNetwork(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := origin + "/static/css/style.css"
	f.transport.RegisterResponder(http.MethodGet, target,
		httpmock.NewStringResponder(http.StatusOK, "body{margin:0}").
			HeaderSet(http.Header{"Content-Type": {"text/css"}}))

	first, err := f.s.CacheFirst(t.Context(), names.Static, newRequest(t, target, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.Status)

	f.transport.Reset()

	second, err := f.s.CacheFirst(t.Context(), names.Static, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, "text/css", second.ContentType())
	assert.Zero(t, f.transport.GetTotalCallCount())
}

func TestCacheFirst_OnlyStoresExact200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		stored bool
	}{
		{"ok", http.StatusOK, true},
		{"partial content", http.StatusPartialContent, false},
		{"redirect", http.StatusFound, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			target := origin + "/static/app.js"
			f.transport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(tt.status, "x"))

			resp, err := f.s.CacheFirst(t.Context(), names.Static, newRequest(t, target, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)

			_, ok := f.cached(t, names.Static, target)
			assert.Equal(t, tt.stored, ok)
		})
	}
}

func TestCacheFirst_MissWithoutNetwork(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.s.CacheFirst(t.Context(), names.Static, newRequest(t, origin+"/static/missing.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "Service Unavailable", string(resp.Body))
	assert.True(t, strings.HasPrefix(resp.ContentType(), "text/plain"))
}

func TestNetworkFirst_Non200DoesNotOverwrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := origin + "/api/products"

	f.transport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusOK, `[{"id":1}]`))
	_, err := f.s.NetworkFirst(t.Context(), names.API, newRequest(t, target, nil))
	require.NoError(t, err)

	f.transport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	resp, err := f.s.NetworkFirst(t.Context(), names.API, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)

	stored, ok := f.cached(t, names.API, target)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(stored.Body))

	f.transport.Reset()
	resp, err = f.s.NetworkFirst(t.Context(), names.API, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `[{"id":1}]`, string(resp.Body))
}

func TestNetworkFirst_APIOfflineWithoutCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.s.NetworkFirst(t.Context(), names.API, newRequest(t, origin+"/api/ingredients", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType())

	var body OfflineError
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "Offline", body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestNetworkFirst_NonAPIOfflineReturnsError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.s.NetworkFirst(t.Context(), names.Dynamic, newRequest(t, origin+"/products", nil))
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestNetworkFirstHTML_InlineOfflinePage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		acceptLanguage string
		want           string
	}{
		{"italian default", "", "Riprova"},
		{"italian", "it-IT,it;q=0.9", "Riprova"},
		{"english", "en-US,en;q=0.8", "Retry"},
		{"unsupported falls back to italian", "ja", "Riprova"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			header := http.Header{"Accept": {"text/html"}}
			if tt.acceptLanguage != "" {
				header.Set("Accept-Language", tt.acceptLanguage)
			}

			resp, err := f.s.NetworkFirstHTML(t.Context(), names.Dynamic, newRequest(t, origin+"/products", header))
			require.NoError(t, err)
			assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
			assert.Equal(t, "text/html; charset=utf-8", resp.ContentType())
			assert.Contains(t, string(resp.Body), "<button")
			assert.Contains(t, string(resp.Body), tt.want)
		})
	}
}

func TestNetworkFirstHTML_PrefersCachedPage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	header := http.Header{"Accept": {"text/html"}}

	f.seed(t, names.Static, origin+"/offline", &cachestore.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("<h1>cached offline</h1>"),
	})
	resp, err := f.s.NetworkFirstHTML(t.Context(), names.Dynamic, newRequest(t, origin+"/products", header))
	require.NoError(t, err)
	assert.Equal(t, "<h1>cached offline</h1>", string(resp.Body))

	f.seed(t, names.Dynamic, origin+"/products", &cachestore.Response{
		Status: http.StatusOK,
		Body:   []byte("<h1>products</h1>"),
	})
	resp, err = f.s.NetworkFirstHTML(t.Context(), names.Dynamic, newRequest(t, origin+"/products", header))
	require.NoError(t, err)
	assert.Equal(t, "<h1>products</h1>", string(resp.Body))
}

func TestStaleWhileRevalidate_CachedWithoutNetwork(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := origin + "/favicon.ico"
	f.seed(t, names.Dynamic, target, &cachestore.Response{Status: http.StatusOK, Body: []byte("icon")})

	resp, err := f.s.StaleWhileRevalidate(t.Context(), names.Dynamic, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, "icon", string(resp.Body))

	f.s.Wait()
	stored, ok := f.cached(t, names.Dynamic, target)
	require.True(t, ok)
	assert.Equal(t, "icon", string(stored.Body))
}

func TestStaleWhileRevalidate_RefreshesInBackground(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := origin + "/robots.txt"
	f.seed(t, names.Dynamic, target, &cachestore.Response{Status: http.StatusOK, Body: []byte("old")})
	f.transport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusOK, "new"))

	resp, err := f.s.StaleWhileRevalidate(t.Context(), names.Dynamic, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, "old", string(resp.Body))

	f.s.Wait()
	stored, ok := f.cached(t, names.Dynamic, target)
	require.True(t, ok)
	assert.Equal(t, "new", string(stored.Body))
}

func TestStaleWhileRevalidate_MissWaitsForNetwork(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := origin + "/robots.txt"
	f.transport.RegisterResponder(http.MethodGet, target, httpmock.NewStringResponder(http.StatusOK, "fresh"))

	resp, err := f.s.StaleWhileRevalidate(t.Context(), names.Dynamic, newRequest(t, target, nil))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(resp.Body))
}

func TestStaleWhileRevalidate_MissWithoutNetwork(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.s.StaleWhileRevalidate(t.Context(), names.Dynamic, newRequest(t, origin+"/robots.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

// blockingFetcher counts calls and holds each fetch until release is closed.
type blockingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ *Request) (*cachestore.Response, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &cachestore.Response{Status: http.StatusOK, Body: []byte("fresh")}, nil
}

func TestStaleWhileRevalidate_DeduplicatesRevalidation(t *testing.T) {
	t.Parallel()
	reg := cachestore.NewMemoryRegistry()
	fetcher := &blockingFetcher{release: make(chan struct{})}
	s := New(Options{Registry: reg, Fetcher: fetcher, Names: names})
	defer s.Close()

	target, err := url.Parse(origin + "/data.txt")
	require.NoError(t, err)
	p, err := reg.Open(t.Context(), names.Dynamic)
	require.NoError(t, err)
	require.NoError(t, p.Put(t.Context(), cachestore.RequestKey(http.MethodGet, target),
		&cachestore.Response{Status: http.StatusOK, Body: []byte("stale")}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			resp, err := s.StaleWhileRevalidate(context.Background(), names.Dynamic, &Request{URL: target})
			assert.NoError(t, err)
			assert.Equal(t, "stale", string(resp.Body))
		})
	}
	wg.Wait()
	close(fetcher.release)
	s.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestExecute_UnknownStrategy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.s.Execute(t.Context(), Name("bogus"), names.Dynamic, newRequest(t, origin+"/", nil))
	require.Error(t, err)
}

func TestHTTPFetcher_DropsHopHeaders(t *testing.T) {
	t.Parallel()
	transport := httpmock.NewMockTransport()
	target := origin + "/api/products"

	var seen http.Header
	transport.RegisterResponder(http.MethodGet, target, func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Clone()
		resp := httpmock.NewStringResponse(http.StatusOK, "[]")
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set("Connection", "close")
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})

	fetcher := NewHTTPFetcher(&http.Client{Transport: transport})
	header := http.Header{"Accept": {"application/json"}, "Connection": {"keep-alive"}}
	resp, err := fetcher.Fetch(t.Context(), newRequest(t, target, header))
	require.NoError(t, err)

	assert.Equal(t, "application/json", seen.Get("Accept"))
	assert.Empty(t, seen.Get("Connection"))
	assert.Empty(t, resp.Header.Get("Connection"))
	assert.Equal(t, "application/json", resp.ContentType())
	assert.Equal(t, "[]", string(resp.Body))
}

func TestCacheFirst_RedirectIsNotStored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, origin+"/static/js/app.js",
		httpmock.NewStringResponder(http.StatusFound, "").
			HeaderSet(http.Header{"Location": {origin + "/login"}}))
	f.transport.RegisterResponder(http.MethodGet, origin+"/login",
		httpmock.NewStringResponder(http.StatusOK, "<html>login</html>"))

	resp, err := f.s.CacheFirst(t.Context(), names.Static, newRequest(t, origin+"/static/js/app.js", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, origin+"/login", resp.Header.Get("Location"))
	assert.Zero(t, f.transport.GetCallCountInfo()["GET "+origin+"/login"])

	_, ok := f.cached(t, names.Static, origin+"/static/js/app.js")
	assert.False(t, ok, "a redirect must not be cached under the redirecting URL")
}

func TestHTTPFetcher_Redirects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       []FetcherOption
		wantStatus int
		wantBody   string
	}{
		{"returned as-is by default", nil, http.StatusFound, ""},
		{"followed on request", []FetcherOption{FollowRedirects()}, http.StatusOK, "<html>dashboard</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, origin+"/",
				httpmock.NewStringResponder(http.StatusFound, "").
					HeaderSet(http.Header{"Location": {"/dashboard"}}))
			transport.RegisterResponder(http.MethodGet, origin+"/dashboard",
				httpmock.NewStringResponder(http.StatusOK, "<html>dashboard</html>"))

			client := &http.Client{Transport: transport}
			resp, err := NewHTTPFetcher(client, tt.opts...).Fetch(t.Context(), newRequest(t, origin+"/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantBody, string(resp.Body))
			assert.Nil(t, client.CheckRedirect, "the caller's client is not modified")
		})
	}
}
