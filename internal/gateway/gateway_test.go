package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"github.com/menubuilder/offline-gateway/internal/lifecycle"
	"github.com/menubuilder/offline-gateway/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "http://origin.test"

func testSettings(t *testing.T, backend string) *conf.Settings {
	t.Helper()
	s := conf.Defaults()
	s.Origin.URL = origin
	s.Cache.Backend = backend
	s.Database.DataDir = t.TempDir()
	s.Worker.SkipWaiting = true
	s.Worker.Precache = []string{"/", "/offline", "/static/css/style.css"}
	s.Sync.ProbeInterval = 0
	return s
}

func newTransport() *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, origin+"/", httpmock.NewStringResponder(http.StatusOK, "<html>home</html>"))
	transport.RegisterResponder(http.MethodGet, origin+"/static/css/style.css", httpmock.NewStringResponder(http.StatusOK, "body{}"))
	return transport
}

func TestNewRejectsRelativeOrigin(t *testing.T) {
	t.Parallel()
	s := testSettings(t, conf.CacheBackendMemory)
	s.Origin.URL = "/relative"

	_, err := New(s)
	require.Error(t, err)
}

func TestGatewayEndToEnd(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{conf.CacheBackendMemory, conf.CacheBackendDatabase} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			transport := newTransport()
			g, err := New(testSettings(t, backend), WithTransport(transport))
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, g.Close()) })

			require.NoError(t, g.Worker.Start(t.Context()))
			require.True(t, g.Worker.Active())

			names, err := g.Registry.Names(t.Context())
			require.NoError(t, err)
			assert.Contains(t, names, g.Names.Static)

			// Precached asset is served without another origin call.
			req := httptest.NewRequest(http.MethodGet, "/static/css/style.css", http.NoBody)
			rec := httptest.NewRecorder()
			g.Server.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "body{}", rec.Body.String())
			assert.Equal(t, 1, transport.GetCallCountInfo()["GET "+origin+"/static/css/style.css"])

			// The offline page is rendered locally, never fetched.
			rec = httptest.NewRecorder()
			g.Server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offline", http.NoBody))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, string(strategy.OfflinePage("")), rec.Body.String())
		})
	}
}

func TestGatewayRetriesInstallWhenOriginRecovers(t *testing.T) {
	t.Parallel()
	transport := newTransport()
	transport.RegisterResponder(http.MethodGet, origin+"/static/css/style.css",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "deploying"))
	transport.RegisterResponder(http.MethodHead, origin+"/", httpmock.NewStringResponder(http.StatusOK, ""))

	g, err := New(testSettings(t, conf.CacheBackendMemory), WithTransport(transport))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, g.Close()) })

	require.Error(t, g.Worker.Start(t.Context()))
	require.Equal(t, lifecycle.StateRedundant, g.Worker.State())

	transport.RegisterResponder(http.MethodGet, origin+"/static/css/style.css",
		httpmock.NewStringResponder(http.StatusOK, "body{}"))
	g.Monitor.Check(t.Context())

	require.Eventually(t, g.Worker.Active, 5*time.Second, 10*time.Millisecond)

	// A reachable origin with an active worker starts nothing further.
	g.Monitor.Check(t.Context())
	assert.True(t, g.Worker.Active())
}

func TestGatewayDrainsQueueThroughAgent(t *testing.T) {
	t.Parallel()
	transport := newTransport()
	transport.RegisterResponder(http.MethodPost, origin+"/api/ingredients",
		httpmock.NewStringResponder(http.StatusCreated, `{"id":3}`))

	g, err := New(testSettings(t, conf.CacheBackendDatabase), WithTransport(transport))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, g.Close()) })

	_, err = g.Store.Enqueue(t.Context(), entities.QueueIngredients, []byte(`{"name":"Zucchero"}`))
	require.NoError(t, err)

	reports, err := g.Agent.SyncAll(t.Context())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	count, err := g.Store.Count(t.Context(), entities.QueueIngredients)
	require.NoError(t, err)
	assert.Zero(t, count)
}
