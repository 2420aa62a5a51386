// Package strategy implements the caching strategies applied to intercepted
// requests: Cache-First, Network-First, Network-First with an HTML offline
// fallback, and Stale-While-Revalidate.
//
// Every strategy returns an explicit response or error. Synthetic responses
// (503 plain text, 503 JSON, offline HTML) are returned as responses, not
// errors, so callers can write them directly.
package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/observability"
	"golang.org/x/sync/singleflight"
)

// Name identifies a strategy.
type Name string

const (
	CacheFirst           Name = "cache-first"
	NetworkFirst         Name = "network-first"
	NetworkFirstHTML     Name = "network-first-html"
	StaleWhileRevalidate Name = "stale-while-revalidate"
)

// Options configures Strategies.
type Options struct {
	Registry cachestore.Registry
	Fetcher  Fetcher
	// Names are the current partition names, searched for the offline page.
	Names cachestore.Names
	// APIPrefix marks requests that get a JSON offline error.
	APIPrefix string
	// OfflineURL is the absolute URL of the persisted offline page.
	OfflineURL *url.URL
	Metrics    *observability.Metrics
	Bus        *events.Bus
	Logger     logger.Logger
}

// Strategies executes caching strategies against a registry and a fetcher.
type Strategies struct {
	registry   cachestore.Registry
	fetcher    Fetcher
	names      cachestore.Names
	apiPrefix  string
	offlineURL *url.URL
	metrics    *observability.Metrics
	bus        *events.Bus
	log        logger.Logger

	group singleflight.Group
	wg    sync.WaitGroup

	// bgCtx bounds background revalidation; it outlives individual requests.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates Strategies. Call Close to stop background revalidation.
func New(opts Options) *Strategies {
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Strategies{
		registry:   opts.Registry,
		fetcher:    opts.Fetcher,
		names:      opts.Names,
		apiPrefix:  opts.APIPrefix,
		offlineURL: opts.OfflineURL,
		metrics:    opts.Metrics,
		bus:        opts.Bus,
		log:        log.Module("strategy"),
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}
}

// Execute runs the named strategy against partition.
func (s *Strategies) Execute(ctx context.Context, name Name, partition string, req *Request) (*cachestore.Response, error) {
	switch name {
	case CacheFirst:
		return s.CacheFirst(ctx, partition, req)
	case NetworkFirst:
		return s.NetworkFirst(ctx, partition, req)
	case NetworkFirstHTML:
		return s.NetworkFirstHTML(ctx, partition, req)
	case StaleWhileRevalidate:
		return s.StaleWhileRevalidate(ctx, partition, req)
	default:
		return nil, errors.Newf("unknown strategy %q", name).
			Component("strategy").
			Category(errors.CategoryValidation).
			Build()
	}
}

// CacheFirst serves a stored response without contacting the network. On a
// miss it fetches and stores the result when the status is exactly 200.
func (s *Strategies) CacheFirst(ctx context.Context, partition string, req *Request) (*cachestore.Response, error) {
	p, err := s.registry.Open(ctx, partition)
	if err != nil {
		return nil, err
	}
	key := req.Key()

	cached, ok, err := p.Match(ctx, key)
	if err != nil {
		s.log.Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
	} else if ok {
		s.metrics.RecordRequest(string(CacheFirst), observability.ResultHit)
		return cached, nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		s.log.Debug("cache miss and network unavailable", logger.String("key", key), logger.Error(err))
		s.metrics.RecordRequest(string(CacheFirst), observability.ResultOffline)
		return serviceUnavailable(), nil
	}
	if resp.Status == http.StatusOK {
		s.store(ctx, p, key, resp)
	}
	s.metrics.RecordRequest(string(CacheFirst), observability.ResultMiss)
	return resp, nil
}

// NetworkFirst prefers a fresh response and falls back to the partition when
// the network fails. API requests with neither get a 503 JSON body; any other
// request gets the network error.
func (s *Strategies) NetworkFirst(ctx context.Context, partition string, req *Request) (*cachestore.Response, error) {
	resp, fetchErr := s.networkFirst(ctx, partition, req, string(NetworkFirst))
	if fetchErr == nil {
		return resp, nil
	}
	if s.isAPI(req) {
		s.metrics.RecordRequest(string(NetworkFirst), observability.ResultOffline)
		return offlineJSONResponse(), nil
	}
	s.metrics.RecordRequest(string(NetworkFirst), observability.ResultOffline)
	return nil, fetchErr
}

// NetworkFirstHTML behaves like NetworkFirst but its last resort is the cached
// offline page, or an inline one when that page was never cached.
func (s *Strategies) NetworkFirstHTML(ctx context.Context, partition string, req *Request) (*cachestore.Response, error) {
	resp, fetchErr := s.networkFirst(ctx, partition, req, string(NetworkFirstHTML))
	if fetchErr == nil {
		return resp, nil
	}

	s.metrics.RecordRequest(string(NetworkFirstHTML), observability.ResultOffline)
	if s.offlineURL != nil {
		offlineKey := cachestore.RequestKey(http.MethodGet, s.offlineURL)
		page, ok, err := cachestore.MatchAny(ctx, s.registry, s.names.All(), offlineKey)
		if err != nil {
			s.log.Warn("offline page lookup failed", logger.Error(err))
		} else if ok {
			return page, nil
		}
	}
	return offlineHTMLResponse(req.Header.Get("Accept-Language")), nil
}

// networkFirst returns the network response, or the cached one when the
// network fails. The fetch error is returned only when both are unavailable.
func (s *Strategies) networkFirst(ctx context.Context, partition string, req *Request, label string) (*cachestore.Response, error) {
	p, err := s.registry.Open(ctx, partition)
	if err != nil {
		return nil, err
	}
	key := req.Key()

	resp, fetchErr := s.fetch(ctx, req)
	if fetchErr == nil {
		if resp.Status == http.StatusOK {
			s.store(ctx, p, key, resp)
		}
		s.metrics.RecordRequest(label, observability.ResultNetwork)
		return resp, nil
	}

	cached, ok, err := p.Match(ctx, key)
	if err != nil {
		s.log.Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
	} else if ok {
		s.log.Debug("serving cached response while offline", logger.String("key", key))
		s.metrics.RecordRequest(label, observability.ResultFallback)
		return cached, nil
	}
	return nil, fetchErr
}

// StaleWhileRevalidate returns a cached response at once and refreshes it in
// the background. On a miss it waits for the network; with no network either
// it returns a 503.
func (s *Strategies) StaleWhileRevalidate(ctx context.Context, partition string, req *Request) (*cachestore.Response, error) {
	p, err := s.registry.Open(ctx, partition)
	if err != nil {
		return nil, err
	}
	key := req.Key()

	cached, ok, err := p.Match(ctx, key)
	if err != nil {
		s.log.Warn("cache lookup failed", logger.String("key", key), logger.Error(err))
		ok = false
	}

	result := s.revalidate(p, req)
	if ok {
		s.metrics.RecordRequest(string(StaleWhileRevalidate), observability.ResultHit)
		return cached, nil
	}

	select {
	case res := <-result:
		if res.Err != nil {
			s.metrics.RecordRequest(string(StaleWhileRevalidate), observability.ResultOffline)
			return serviceUnavailable(), nil
		}
		s.metrics.RecordRequest(string(StaleWhileRevalidate), observability.ResultMiss)
		return res.Val.(*cachestore.Response).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// revalidate starts, or joins, the background fetch for key in p.
func (s *Strategies) revalidate(p cachestore.Partition, req *Request) <-chan singleflight.Result {
	key := req.Key()
	out := make(chan singleflight.Result, 1)

	s.wg.Add(1)
	ch := s.group.DoChan(p.Name()+"\x00"+key, func() (any, error) {
		resp, err := s.fetch(s.bgCtx, req)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusOK {
			s.store(s.bgCtx, p, key, resp)
		}
		return resp, nil
	})
	go func() {
		defer s.wg.Done()
		out <- <-ch
	}()
	return out
}

// Wait blocks until every background revalidation has finished.
func (s *Strategies) Wait() {
	s.wg.Wait()
}

// Close cancels background revalidation and waits for it to stop.
func (s *Strategies) Close() {
	s.bgCancel()
	s.wg.Wait()
}

func (s *Strategies) fetch(ctx context.Context, req *Request) (*cachestore.Response, error) {
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, req)
	s.metrics.ObserveFetch(time.Since(start), err)
	return resp, err
}

// store writes a copy of resp. Failures are logged; the caller still returns
// the network response.
func (s *Strategies) store(ctx context.Context, p cachestore.Partition, key string, resp *cachestore.Response) {
	if err := p.Put(ctx, key, resp); err != nil {
		s.log.Warn("failed to store response",
			logger.String("partition", p.Name()),
			logger.String("key", key),
			logger.Error(err))
		return
	}
	s.metrics.RecordCacheWrite(p.Name())
	s.bus.Emit(events.TypeCacheWrite, map[string]any{
		"partition": p.Name(),
		"key":       key,
	})
}

func (s *Strategies) isAPI(req *Request) bool {
	return s.apiPrefix != "" && strings.HasPrefix(req.URL.Path, s.apiPrefix)
}
