package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActivator struct {
	calls atomic.Int32
}

func (f *fakeActivator) SkipWaiting() { f.calls.Add(1) }

var names = cachestore.NewNames("menu-builder", "1.0.0")

func newDispatcher(t *testing.T) (*Dispatcher, *cachestore.MemoryRegistry, *fakeActivator) {
	t.Helper()
	reg := cachestore.NewMemoryRegistry()
	act := &fakeActivator{}
	u, err := url.Parse("http://origin.test/api/ingredients")
	require.NoError(t, err)
	return NewDispatcher(Options{
		Registry:       reg,
		Names:          names,
		Activator:      act,
		IngredientsURL: u,
	}), reg, act
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"SKIP_WAITING", "CACHE_INGREDIENTS", "GET_CACHE_SIZE"} {
		got, err := ParseKind(k)
		require.NoError(t, err)
		assert.Equal(t, Kind(k), got)
	}

	_, err := ParseKind("skip_waiting")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestDispatch_SkipWaiting(t *testing.T) {
	t.Parallel()
	d, _, act := newDispatcher(t)

	require.NoError(t, d.Dispatch(t.Context(), &Message{Type: KindSkipWaiting}, nil))
	assert.Equal(t, int32(1), act.calls.Load())
}

func TestDispatch_UnknownKind(t *testing.T) {
	t.Parallel()
	d, _, act := newDispatcher(t)

	err := d.Dispatch(t.Context(), &Message{Type: "CLAIM"}, nil)
	require.Error(t, err)
	assert.Zero(t, act.calls.Load())
}

func TestDispatch_CacheIngredients(t *testing.T) {
	t.Parallel()
	d, reg, _ := newDispatcher(t)

	payload := json.RawMessage(`[ {"id": 1, "name": "Farina"}, {"id": 2, "name": "Zucchero"} ]`)
	require.NoError(t, d.Dispatch(t.Context(), &Message{Type: KindCacheIngredients, Payload: payload}, nil))

	p, err := reg.Open(t.Context(), names.API)
	require.NoError(t, err)
	resp, ok, err := p.Match(t.Context(), "GET http://origin.test/api/ingredients")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType())
	assert.JSONEq(t, string(payload), string(resp.Body))
}

func TestDispatch_CacheIngredientsRejectsNonArray(t *testing.T) {
	t.Parallel()
	d, reg, _ := newDispatcher(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"object", `{"id":1}`},
		{"missing", ``},
		{"garbage", `not json`},
		{"null", `null`},
	}
	for _, tt := range tests {
		err := d.Dispatch(t.Context(), &Message{Type: KindCacheIngredients, Payload: json.RawMessage(tt.payload)}, nil)
		require.Error(t, err, tt.name)
	}

	has, err := reg.Has(t.Context(), names.API)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDispatch_GetCacheSize(t *testing.T) {
	t.Parallel()
	d, reg, _ := newDispatcher(t)

	static, err := reg.Open(t.Context(), names.Static)
	require.NoError(t, err)
	require.NoError(t, static.Put(t.Context(), "a", &cachestore.Response{Status: 200, Body: []byte("12345")}))
	dynamic, err := reg.Open(t.Context(), names.Dynamic)
	require.NoError(t, err)
	require.NoError(t, dynamic.Put(t.Context(), "b", &cachestore.Response{Status: 200, Body: []byte("123")}))

	var got *Reply
	port := ReplyFunc(func(_ context.Context, r Reply) error {
		got = &r
		return nil
	})
	require.NoError(t, d.Dispatch(t.Context(), &Message{Type: KindGetCacheSize}, port))

	require.NotNil(t, got)
	assert.Equal(t, KindGetCacheSize, got.Type)
	require.NotNil(t, got.Size)
	assert.Equal(t, int64(8), *got.Size)
}

func TestDispatch_GetCacheSizeWithoutPortIsNoop(t *testing.T) {
	t.Parallel()
	d, _, _ := newDispatcher(t)
	require.NoError(t, d.Dispatch(t.Context(), &Message{Type: KindGetCacheSize}, nil))
}

func TestReply_JSON(t *testing.T) {
	t.Parallel()
	size := int64(42)
	data, err := json.Marshal(Reply{Type: KindGetCacheSize, Size: &size})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"GET_CACHE_SIZE","size":42}`, string(data))
}
