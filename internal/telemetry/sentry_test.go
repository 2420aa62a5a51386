package telemetry

import (
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHub returns a hub whose events are collected instead of sent.
func captureHub(t *testing.T) (*sentry.Hub, func() []*sentry.Event) {
	t.Helper()
	var mu sync.Mutex
	var captured []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			captured = append(captured, event)
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*sentry.Event(nil), captured...)
	}
}

func buildError(category errors.Category) *errors.EnhancedError {
	var ee *errors.EnhancedError
	err := errors.Newf("partition write failed").
		Component("cachestore").
		Category(category).
		Context("partition", "menu-builder-v1.0.0-api").
		Build()
	errors.As(err, &ee)
	return ee
}

func TestReporter_CapturesWithTags(t *testing.T) {
	hub, events := captureHub(t)
	report := NewReporter(hub)

	report(buildError(errors.CategoryCache))

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "cachestore", got[0].Tags["component"])
	assert.Equal(t, "cache", got[0].Tags["category"])
	assert.Equal(t, "menu-builder-v1.0.0-api", got[0].Contexts["error"]["partition"])
}

func TestReporter_SkipsNetworkErrors(t *testing.T) {
	hub, events := captureHub(t)
	report := NewReporter(hub)

	report(buildError(errors.CategoryNetwork))
	assert.Empty(t, events())
}

func TestInit_Disabled(t *testing.T) {
	flush, err := Init(&conf.SentrySettings{Enabled: false}, "test")
	require.NoError(t, err)
	flush()
}
