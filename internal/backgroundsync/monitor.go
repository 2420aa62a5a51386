package backgroundsync

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
)

// probeTimeout bounds a single connectivity probe.
const probeTimeout = 5 * time.Second

// Syncer is the part of Agent the monitor drives.
type Syncer interface {
	SyncAll(ctx context.Context) ([]*Report, error)
}

// Monitor probes the origin periodically and triggers a full sync whenever
// the origin becomes reachable again.
type Monitor struct {
	syncer   Syncer
	client   *http.Client
	probeURL string
	interval time.Duration
	bus      *events.Bus
	log      logger.Logger

	mu       sync.Mutex
	online   *bool
	onOnline []func(context.Context)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor creates a Monitor probing origin+probePath every interval.
func NewMonitor(syncer Syncer, client *http.Client, origin *url.URL, probePath string, interval time.Duration, bus *events.Bus, log logger.Logger) *Monitor {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Monitor{
		syncer:   syncer,
		client:   client,
		probeURL: origin.ResolveReference(&url.URL{Path: probePath}).String(),
		interval: interval,
		bus:      bus,
		log:      log.Module("connectivity"),
	}
}

// Online reports the result of the last probe. Before the first probe it is false.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online != nil && *m.online
}

// OnOnline registers fn to run after every probe that finds the origin
// reachable. fn runs on the probe loop and must not block.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Start launches the probe loop. An interval of zero disables the monitor.
func (m *Monitor) Start() {
	if m.interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go func() {
		defer close(doneCh)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		m.Check(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop ends the probe loop and waits for an in-progress sync to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// Check runs one probe and, on an offline to online transition, syncs every
// queue. The first successful probe counts as a transition so submissions left
// over from a previous run are drained at startup.
func (m *Monitor) Check(ctx context.Context) {
	online := m.probe(ctx)

	m.mu.Lock()
	reconnected := online && (m.online == nil || !*m.online)
	changed := m.online == nil || *m.online != online
	m.online = &online
	hooks := m.onOnline
	m.mu.Unlock()

	if changed {
		m.log.Info("origin connectivity changed", logger.Bool("online", online))
		m.bus.Emit(events.TypeConnectivity, map[string]any{"online": online})
	}
	if online {
		for _, fn := range hooks {
			fn(ctx)
		}
	}
	if !reconnected {
		return
	}
	if _, err := m.syncer.SyncAll(ctx); err != nil {
		m.log.Warn("sync after reconnect failed", logger.Error(err))
	}
}

// probe treats any HTTP response as reachable; only transport errors are offline.
func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Debug("connectivity probe failed", logger.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return true
}
