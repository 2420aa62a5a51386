// Package lifecycle installs and activates a gateway version: it precaches the
// static shell, waits while an older version is in control, and purges stale
// partitions on activation. Requests are only intercepted once active.
package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/strategy"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidState is returned when an operation is not allowed in the current state.
var ErrInvalidState = errors.NewStd("invalid lifecycle state")

// installConcurrency bounds parallel precache fetches.
const installConcurrency = 8

// Options configures a Worker.
type Options struct {
	Registry cachestore.Registry
	Fetcher  strategy.Fetcher
	Names    cachestore.Names
	Origin   *url.URL
	// Precache lists origin-relative paths or absolute URLs of the app shell.
	Precache []string
	// OfflineURL is where the offline page is stored. The page is rendered
	// locally rather than fetched, so it is always part of the precache.
	OfflineURL *url.URL
	// SkipWaiting activates as soon as install completes.
	SkipWaiting bool
	// MaxWaiting bounds the waiting phase; zero waits until told to skip.
	MaxWaiting time.Duration
	Bus        *events.Bus
	Logger     logger.Logger
}

// Worker drives the install/activate state machine.
type Worker struct {
	opts Options
	log  logger.Logger

	mu    sync.RWMutex
	state State

	skipOnce sync.Once
	skipCh   chan struct{}
}

// New creates a Worker in the uninstalled state.
func New(opts Options) *Worker {
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Worker{
		opts:   opts,
		log:    log.Module("lifecycle"),
		state:  StateUninstalled,
		skipCh: make(chan struct{}),
	}
}

// State returns the current state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Active reports whether requests should be intercepted.
func (w *Worker) Active() bool {
	return w.State() == StateActive
}

// Names returns the partition names of this version.
func (w *Worker) Names() cachestore.Names {
	return w.opts.Names
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	if prev == s {
		return
	}
	w.log.Info("lifecycle state changed",
		logger.String("from", string(prev)),
		logger.String("to", string(s)))
	w.opts.Bus.Emit(events.TypeStateChanged, map[string]any{
		"state":    string(s),
		"previous": string(prev),
	})
}

// transition moves from one of the allowed states to next atomically.
func (w *Worker) transition(next State, allowed func(State) bool) error {
	w.mu.Lock()
	cur := w.state
	if !allowed(cur) {
		w.mu.Unlock()
		return errors.New(ErrInvalidState).
			Component("lifecycle").
			Category(errors.CategoryLifecycle).
			Context("state", string(cur)).
			Context("target", string(next)).
			Build()
	}
	w.mu.Unlock()
	w.setState(next)
	return nil
}

// Install fetches every precache asset and stores the set in the static
// partition. Either every asset is stored or none is: on failure the state
// becomes redundant, a static partition created by this attempt is removed,
// and existing partitions are left alone.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling, State.canInstall); err != nil {
		return err
	}

	if err := w.install(ctx); err != nil {
		w.log.Error("install failed", logger.Error(err))
		w.opts.Bus.Emit(events.TypeInstallFailed, map[string]any{"error": err.Error()})
		w.setState(StateRedundant)
		return err
	}
	w.setState(StateInstalled)
	return nil
}

func (w *Worker) install(ctx context.Context) error {
	entries, err := w.fetchPrecache(ctx)
	if err != nil {
		return err
	}

	name := w.opts.Names.Static
	existed, err := w.opts.Registry.Has(ctx, name)
	if err != nil {
		return err
	}
	p, err := w.opts.Registry.Open(ctx, name)
	if err != nil {
		return err
	}
	if err := p.PutAll(ctx, entries); err != nil {
		if !existed {
			if _, delErr := w.opts.Registry.Delete(context.WithoutCancel(ctx), name); delErr != nil {
				w.log.Warn("failed to remove partition after install failure",
					logger.String("partition", name),
					logger.Error(delErr))
			}
		}
		return err
	}

	w.log.Info("precache stored",
		logger.String("partition", name),
		logger.Int("entries", len(entries)))
	return nil
}

// fetchPrecache fetches the manifest concurrently. Any network error or
// non-200 status fails the whole set. The offline page is seeded, never
// fetched.
func (w *Worker) fetchPrecache(ctx context.Context) ([]cachestore.Entry, error) {
	urls := make([]*url.URL, 0, len(w.opts.Precache))
	for _, raw := range w.opts.Precache {
		u, err := w.resolve(raw)
		if err != nil {
			return nil, err
		}
		if w.isOfflinePage(u) {
			continue
		}
		urls = append(urls, u)
	}
	entries := make([]cachestore.Entry, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			req := &strategy.Request{URL: u, Header: http.Header{}}
			resp, err := w.opts.Fetcher.Fetch(gctx, req)
			if err != nil {
				return err
			}
			if resp.Status != http.StatusOK {
				return errors.Newf("precache asset %s returned status %d", u, resp.Status).
					Component("lifecycle").
					Category(errors.CategoryNetwork).
					Context("url", u.String()).
					Context("status", resp.Status).
					Build()
			}
			entries[i] = cachestore.Entry{Key: req.Key(), Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if w.opts.OfflineURL != nil {
		entries = append(entries, cachestore.Entry{
			Key:      cachestore.RequestKey(http.MethodGet, w.opts.OfflineURL),
			Response: strategy.OfflineDocument(),
		})
	}
	return entries, nil
}

func (w *Worker) isOfflinePage(u *url.URL) bool {
	o := w.opts.OfflineURL
	return o != nil && cachestore.RequestKey(http.MethodGet, u) == cachestore.RequestKey(http.MethodGet, o)
}

func (w *Worker) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New(err).
			Component("lifecycle").
			Category(errors.CategoryConfiguration).
			Context("precache", raw).
			Build()
	}
	if ref.IsAbs() {
		return ref, nil
	}
	return w.opts.Origin.ResolveReference(ref), nil
}

// Activate purges stale partitions and starts intercepting requests. It is
// only valid from the installed state.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	err := w.transition(StateActivating, func(s State) bool { return s == StateInstalled })
	if err != nil {
		return nil, err
	}

	purged, err := PurgeStale(ctx, w.opts.Registry, w.opts.Names)
	for _, name := range purged {
		w.log.Info("purged stale partition", logger.String("partition", name))
		w.opts.Bus.Emit(events.TypePartitionPurged, map[string]any{"partition": name})
	}
	if err != nil {
		// Stale partitions are retried on the next activation; the new
		// version still takes control.
		w.log.Warn("failed to purge stale partitions", logger.Error(err))
	}

	w.setState(StateActive)
	return purged, nil
}

// SkipWaiting requests activation as soon as install completes. Calling it
// more than once has no further effect.
func (w *Worker) SkipWaiting() {
	w.skipOnce.Do(func() {
		w.log.Info("skip waiting requested")
		close(w.skipCh)
	})
}

// Start installs, waits while an older version is in control, then activates.
// Waiting ends when skip-waiting is configured or requested, when no stale
// partition exists, when MaxWaiting elapses, or when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}

	if !w.opts.SkipWaiting {
		stale, err := StalePartitions(ctx, w.opts.Registry, w.opts.Names)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			w.log.Info("waiting for previous version to release control",
				logger.Int("stale_partitions", len(stale)))
			if err := w.wait(ctx); err != nil {
				return err
			}
		}
	}

	_, err := w.Activate(ctx)
	return err
}

func (w *Worker) wait(ctx context.Context) error {
	var timeout <-chan time.Time
	if w.opts.MaxWaiting > 0 {
		timer := time.NewTimer(w.opts.MaxWaiting)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-w.skipCh:
	case <-timeout:
		w.log.Info("waiting period elapsed")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
