package cachestore

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/menubuilder/offline-gateway/internal/datastore/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

func newTestDBRegistry(t *testing.T) *DBRegistry {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=ON"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewDBRegistry(repository.NewCacheRepository(db))
}

// registries runs fn against every Registry implementation.
func registries(t *testing.T, fn func(t *testing.T, reg Registry)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryRegistry()) })
	t.Run("database", func(t *testing.T) { fn(t, newTestDBRegistry(t)) })
}

func okResponse(body string) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/css")
	return &Response{Status: http.StatusOK, Header: h, Body: []byte(body)}
}

func TestRegistry_LatestWriteWins(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		p, err := reg.Open(ctx, "menu-builder-v1.0.0-static")
		require.NoError(t, err)

		key := "GET http://origin/static/css/style.css"
		require.NoError(t, p.Put(ctx, key, okResponse("body{}")))
		require.NoError(t, p.Put(ctx, key, okResponse("body{color:red}")))

		got, ok, err := p.Match(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "body{color:red}", string(got.Body))
		assert.Equal(t, "text/css", got.ContentType())
		assert.False(t, got.StoredAt.IsZero())

		keys, err := p.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{key}, keys)
	})
}

func TestRegistry_MatchMiss(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		p, err := reg.Open(t.Context(), "menu-builder-v1.0.0-dynamic")
		require.NoError(t, err)
		got, ok, err := p.Match(t.Context(), "GET http://origin/about")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})
}

func TestRegistry_StoredCopyIsIsolated(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		p, err := reg.Open(ctx, "menu-builder-v1.0.0-api")
		require.NoError(t, err)

		resp := okResponse("[1]")
		require.NoError(t, p.Put(ctx, "k", resp))
		resp.Body[0] = 'X'

		got, _, err := p.Match(ctx, "k")
		require.NoError(t, err)
		got.Body[1] = 'Y'

		again, _, err := p.Match(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "[1]", string(again.Body))
	})
}

func TestRegistry_NamesHasDelete(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		for _, name := range []string{"a", "b", "c"} {
			_, err := reg.Open(ctx, name)
			require.NoError(t, err)
		}
		names, err := reg.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names)

		deleted, err := reg.Delete(ctx, "b")
		require.NoError(t, err)
		assert.True(t, deleted)

		has, err := reg.Has(ctx, "b")
		require.NoError(t, err)
		assert.False(t, has)

		deleted, err = reg.Delete(ctx, "b")
		require.NoError(t, err)
		assert.False(t, deleted)

		names, err = reg.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, names)
	})
}

func TestRegistry_PutAllAndTotalSize(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		static, err := reg.Open(ctx, "static")
		require.NoError(t, err)
		api, err := reg.Open(ctx, "api")
		require.NoError(t, err)

		require.NoError(t, static.PutAll(ctx, []Entry{
			{Key: "GET http://origin/a.js", Response: &Response{Status: 200, Body: []byte("aaaa")}},
			{Key: "GET http://origin/b.js", Response: &Response{Status: 200, Body: []byte("bb")}},
		}))
		require.NoError(t, api.Put(ctx, "GET http://origin/api/x", &Response{Status: 200, Body: []byte("x")}))

		staticSize, err := static.Size(ctx)
		require.NoError(t, err)
		apiSize, err := api.Size(ctx)
		require.NoError(t, err)
		assert.Positive(t, staticSize)

		total, err := TotalSize(ctx, reg)
		require.NoError(t, err)
		assert.Equal(t, staticSize+apiSize, total)
	})
}

func TestRegistry_SizeMatchesResponseSize(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		p, err := reg.Open(ctx, "static")
		require.NoError(t, err)

		css := okResponse("body{color:red}")
		css.Header.Set("Cache-Control", "max-age=3600")
		js := &Response{Status: 200, Header: http.Header{"Content-Type": {"text/javascript"}}, Body: []byte("app()")}
		bare := &Response{Status: 200, Body: []byte("x")}

		require.NoError(t, p.PutAll(ctx, []Entry{
			{Key: "GET http://origin/style.css", Response: css},
			{Key: "GET http://origin/app.js", Response: js},
		}))
		require.NoError(t, p.Put(ctx, "GET http://origin/x", bare))

		size, err := p.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, css.Size()+js.Size()+bare.Size(), size)
	})
}

func TestMatchAny_SkipsMissingPartitions(t *testing.T) {
	registries(t, func(t *testing.T, reg Registry) {
		ctx := t.Context()
		p, err := reg.Open(ctx, "dynamic")
		require.NoError(t, err)
		require.NoError(t, p.Put(ctx, "GET http://origin/offline", okResponse("offline")))

		got, ok, err := MatchAny(ctx, reg, []string{"static", "dynamic"}, "GET http://origin/offline")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "offline", string(got.Body))

		has, err := reg.Has(ctx, "static")
		require.NoError(t, err)
		assert.False(t, has, "lookup must not create partitions")
	})
}

func TestStats(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := t.Context()
	names := NewNames("menu-builder", "1.0.0")

	p, err := reg.Open(ctx, names.Static)
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, "k", &Response{Status: 200, Body: []byte("abc")}))
	_, err = reg.Open(ctx, "menu-builder-v0.9.0-static")
	require.NoError(t, err)

	stats, err := Stats(ctx, reg, names)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, PartitionStats{Name: names.Static, Entries: 1, Bytes: 3, Current: true}, stats[0])
	assert.False(t, stats[1].Current)
}

func TestMemoryRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := reg.Open(ctx, "dynamic")
			assert.NoError(t, err)
			key := "GET http://origin/page/" + string(rune('a'+i))
			assert.NoError(t, p.Put(ctx, key, okResponse("x")))
			_, ok, err := p.Match(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	names, err := reg.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dynamic"}, names)
}

func TestNewNames(t *testing.T) {
	t.Parallel()

	n := NewNames("menu-builder", "1.0.0")
	assert.Equal(t, "menu-builder-v1.0.0-static", n.Static)
	assert.Equal(t, "menu-builder-v1.0.0-dynamic", n.Dynamic)
	assert.Equal(t, "menu-builder-v1.0.0-api", n.API)
	assert.Equal(t, n.API, n.For(KindAPI))
	assert.True(t, n.Current("menu-builder-v1.0.0-api"))
	assert.False(t, n.Current("menu-builder-v0.9.0-static"))
}

func TestRequestKey(t *testing.T) {
	t.Parallel()
	u, err := url.Parse("https://cdn.jsdelivr.net/npm/chart.js?v=4")
	require.NoError(t, err)
	assert.Equal(t, "GET https://cdn.jsdelivr.net/npm/chart.js?v=4", RequestKey(http.MethodGet, u))
}
