// Package telemetry forwards internal errors to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/errors"
)

// flushTimeout bounds how long shutdown waits for queued events.
const flushTimeout = 2 * time.Second

// Init configures the global Sentry client and installs the error reporter.
// It returns a flush function to call on shutdown. When Sentry is disabled
// it does nothing.
func Init(settings *conf.SentrySettings, release string) (func(), error) {
	if !settings.Enabled {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sentry: %w", err)
	}
	errors.SetReporter(NewReporter(sentry.CurrentHub()))
	return func() {
		errors.SetReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// NewReporter returns an errors.Reporter that captures on hub. Network errors
// are expected while the origin is offline and are not reported.
func NewReporter(hub *sentry.Hub) errors.Reporter {
	return func(ee *errors.EnhancedError) {
		if ee.GetCategory() == errors.CategoryNetwork {
			return
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", ee.GetComponent())
			scope.SetTag("category", string(ee.GetCategory()))
			if ctx := ee.GetContext(); len(ctx) > 0 {
				scope.SetContext("error", sentry.Context(ctx))
			}
			hub.CaptureException(ee)
		})
	}
}
