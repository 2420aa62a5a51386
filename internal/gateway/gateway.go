// Package gateway assembles the offline gateway from settings: storage, cache
// registry, strategies, lifecycle, background sync, messaging, the event
// consumers and the HTTP server.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/menubuilder/offline-gateway/internal/api"
	"github.com/menubuilder/offline-gateway/internal/backgroundsync"
	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/datastore"
	"github.com/menubuilder/offline-gateway/internal/datastore/repository"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/lifecycle"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/messaging"
	"github.com/menubuilder/offline-gateway/internal/mqtt"
	"github.com/menubuilder/offline-gateway/internal/observability"
	"github.com/menubuilder/offline-gateway/internal/router"
	"github.com/menubuilder/offline-gateway/internal/strategy"
)

const (
	shutdownTimeout = 15 * time.Second
	// ingredientsPath is where CACHE_INGREDIENTS lists are served from.
	ingredientsPath = "/api/ingredients"
)

// Option customises New.
type Option func(*options)

type options struct {
	log       logger.Logger
	transport http.RoundTripper
}

// WithLogger sets the logger shared by every component.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithTransport replaces the transport used to reach the origin.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// Gateway holds the wired components.
type Gateway struct {
	Settings   *conf.Settings
	Origin     *url.URL
	Names      cachestore.Names
	DB         *datastore.Manager
	Registry   cachestore.Registry
	Store      repository.SubmissionRepository
	Bus        *events.Bus
	Metrics    *observability.Metrics
	Strategies *strategy.Strategies
	Worker     *lifecycle.Worker
	Router     *router.Router
	Dispatcher *messaging.Dispatcher
	Agent      *backgroundsync.Agent
	Monitor    *backgroundsync.Monitor
	Publisher  *mqtt.Publisher
	Server     *api.Server

	log      logger.Logger
	retrying atomic.Bool
	retries  sync.WaitGroup
}

// New wires every component. Nothing is started; call Run to serve.
func New(settings *conf.Settings, opts ...Option) (*Gateway, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	log := o.log.Module("gateway")

	origin, err := url.Parse(settings.Origin.URL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Newf("origin url %q is not absolute", settings.Origin.URL).
			Component("gateway").
			Category(errors.CategoryConfiguration).
			Build()
	}
	offlineURL := origin.ResolveReference(&url.URL{Path: settings.Worker.OfflinePath})
	ingredientsURL := origin.ResolveReference(&url.URL{Path: ingredientsPath})

	db, err := datastore.Open(datastore.ConfigFromSettings(settings))
	if err != nil {
		return nil, err
	}

	var registry cachestore.Registry
	switch settings.Cache.Backend {
	case conf.CacheBackendMemory:
		registry = cachestore.NewMemoryRegistry()
	default:
		registry = cachestore.NewDBRegistry(repository.NewCacheRepository(db.DB()))
	}

	client := &http.Client{
		Transport: o.transport,
		Timeout:   settings.Origin.Timeout.Std(),
	}
	names := cachestore.NewNames(settings.Worker.CachePrefix, settings.Worker.Version)
	bus := events.NewBus()
	metrics := observability.NewMetrics()
	metrics.Subscribe(bus)
	store := repository.NewSubmissionRepository(db.DB())
	fetcher := strategy.NewHTTPFetcher(client)

	strategies := strategy.New(strategy.Options{
		Registry:   registry,
		Fetcher:    fetcher,
		Names:      names,
		APIPrefix:  settings.Worker.APIPrefix,
		OfflineURL: offlineURL,
		Metrics:    metrics,
		Bus:        bus,
		Logger:     o.log,
	})
	worker := lifecycle.New(lifecycle.Options{
		Registry:    registry,
		Fetcher:     strategy.NewHTTPFetcher(client, strategy.FollowRedirects()),
		Names:       names,
		Origin:      origin,
		Precache:    settings.Worker.Precache,
		OfflineURL:  offlineURL,
		SkipWaiting: settings.Worker.SkipWaiting,
		MaxWaiting:  settings.Worker.MaxWaiting.Std(),
		Bus:         bus,
		Logger:      o.log,
	})
	rt := router.New(router.RulesFromSettings(&settings.Worker), origin, names, strategies, worker)
	dispatcher := messaging.NewDispatcher(messaging.Options{
		Registry:       registry,
		Names:          names,
		Activator:      worker,
		IngredientsURL: ingredientsURL,
		Bus:            bus,
		Logger:         o.log,
	})
	agent := backgroundsync.NewAgent(backgroundsync.AgentOptions{
		Store:  store,
		Client: client,
		Origin: origin,
		Bus:    bus,
		Logger: o.log,
	})
	monitor := backgroundsync.NewMonitor(agent, client, origin, settings.Sync.ProbePath,
		settings.Sync.ProbeInterval.Std(), bus, o.log)

	var publisher *mqtt.Publisher
	if settings.MQTT.Enabled {
		publisher = mqtt.NewPublisher(&settings.MQTT, o.log)
	}

	server := api.NewServer(api.Deps{
		Settings:   settings,
		Origin:     origin,
		Registry:   registry,
		Router:     rt,
		Worker:     worker,
		Dispatcher: dispatcher,
		Agent:      agent,
		Store:      store,
		Monitor:    monitor,
		Metrics:    metrics,
		Bus:        bus,
		Transport:  o.transport,
		Logger:     o.log,
	})

	log.Info("gateway configured",
		logger.String("origin", origin.String()),
		logger.String("version", settings.Worker.Version),
		logger.String("cache_backend", settings.Cache.Backend),
		logger.String("database", settings.Database.Type))

	g := &Gateway{
		Settings:   settings,
		Origin:     origin,
		Names:      names,
		DB:         db,
		Registry:   registry,
		Store:      store,
		Bus:        bus,
		Metrics:    metrics,
		Strategies: strategies,
		Worker:     worker,
		Router:     rt,
		Dispatcher: dispatcher,
		Agent:      agent,
		Monitor:    monitor,
		Publisher:  publisher,
		Server:     server,
		log:        log,
	}
	monitor.OnOnline(g.retryInstall)
	return g, nil
}

// retryInstall restarts the lifecycle of a redundant worker. It runs on the
// monitor loop, so the attempt itself happens in the background and at most
// one attempt runs at a time.
func (g *Gateway) retryInstall(ctx context.Context) {
	if g.Worker.State() != lifecycle.StateRedundant || !g.retrying.CompareAndSwap(false, true) {
		return
	}
	g.retries.Go(func() {
		defer g.retrying.Store(false)
		g.log.Info("retrying install")
		if err := g.Worker.Start(ctx); err != nil && ctx.Err() == nil {
			g.log.Warn("install retry failed", logger.Error(err))
		}
	})
}

// Run serves until ctx is cancelled or the listener fails. The worker
// lifecycle runs in the background; until it reaches active every request
// passes through to the origin.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if g.Publisher != nil {
		if err := g.Publisher.Connect(ctx); err != nil {
			g.log.Warn("mqtt unavailable, events will not be published", logger.Error(err))
		}
		g.Publisher.Subscribe(g.Bus)
	}

	g.Monitor.Start()

	lifecycleDone := make(chan struct{})
	go func() {
		defer close(lifecycleDone)
		if err := g.Worker.Start(ctx); err != nil && ctx.Err() == nil {
			g.log.Error("worker failed to start, serving pass-through only", logger.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- g.Server.Start(g.Settings.WebServer.Listen)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := g.Server.Shutdown(shutdownCtx); shutdownErr != nil {
		g.log.Warn("server shutdown failed", logger.Error(shutdownErr))
	}
	g.Monitor.Stop()
	stop()
	<-lifecycleDone
	g.retries.Wait()
	return err
}

// Close releases every resource New acquired. It waits for background
// revalidation and flushes pending events first.
func (g *Gateway) Close() error {
	g.retries.Wait()
	g.Strategies.Close()
	g.Bus.Stop()
	if g.Publisher != nil {
		g.Publisher.Close()
	}
	return g.DB.Close()
}
