// Package backgroundsync replays offline submissions against the origin API
// once connectivity returns.
package backgroundsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"github.com/menubuilder/offline-gateway/internal/datastore/repository"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
)

// ErrSyncInProgress is returned when a sync for the same queue is already running.
var ErrSyncInProgress = errors.NewStd("sync already in progress")

// Report summarises one sync run.
type Report struct {
	Kind      Kind          `json:"tag"`
	Attempted int           `json:"attempted"`
	Replayed  int           `json:"replayed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// AgentOptions configures an Agent.
type AgentOptions struct {
	Store  repository.SubmissionRepository
	Client *http.Client
	Origin *url.URL
	Bus    *events.Bus
	Logger logger.Logger
}

// Agent drains offline queues.
type Agent struct {
	store  repository.SubmissionRepository
	client *http.Client
	origin *url.URL
	bus    *events.Bus
	log    logger.Logger

	mu       sync.Mutex
	inFlight map[entities.Queue]bool
}

// NewAgent creates an Agent. A nil Client uses http.DefaultClient.
func NewAgent(opts AgentOptions) *Agent {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Agent{
		store:    opts.Store,
		client:   client,
		origin:   opts.Origin,
		bus:      opts.Bus,
		log:      log.Module("backgroundsync"),
		inFlight: make(map[entities.Queue]bool),
	}
}

// Enqueue stores a submission for later replay.
func (a *Agent) Enqueue(ctx context.Context, kind Kind, payload []byte) (*entities.Submission, error) {
	sub, err := a.store.Enqueue(ctx, kind.Queue(), payload)
	if err != nil {
		return nil, err
	}
	a.log.Debug("submission queued",
		logger.String("queue", string(sub.Queue)),
		logger.String("id", sub.ID))
	a.bus.Emit(events.TypeSubmissionQueued, map[string]any{
		"tag": string(kind),
		"id":  sub.ID,
	})
	return sub, nil
}

func (a *Agent) acquire(q entities.Queue) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inFlight[q] {
		return false
	}
	a.inFlight[q] = true
	return true
}

func (a *Agent) release(q entities.Queue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, q)
}

// Sync posts every queued submission of kind to its endpoint, one at a time
// and in enqueue order. A 2xx response removes the submission; anything else
// leaves it queued for the next run. There is no internal retry.
func (a *Agent) Sync(ctx context.Context, kind Kind) (*Report, error) {
	queue := kind.Queue()
	if !a.acquire(queue) {
		return nil, errors.New(ErrSyncInProgress).
			Component("backgroundsync").
			Category(errors.CategorySync).
			Context("tag", string(kind)).
			Build()
	}
	defer a.release(queue)

	start := time.Now()
	report := &Report{Kind: kind}

	subs, err := a.store.List(ctx, queue)
	if err != nil {
		return nil, err
	}

	var errs []error
	for i := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sub := &subs[i]
		report.Attempted++

		if err := a.replay(ctx, kind, sub); err != nil {
			report.Failed++
			a.log.Warn("submission replay failed, keeping it queued",
				logger.String("tag", string(kind)),
				logger.String("id", sub.ID),
				logger.Error(err))
			continue
		}

		report.Replayed++
		if err := a.store.Delete(ctx, queue, sub.ID); err != nil {
			errs = append(errs, err)
			a.log.Error("failed to remove replayed submission",
				logger.String("id", sub.ID),
				logger.Error(err))
		}
	}
	report.Duration = time.Since(start)

	if report.Attempted > 0 {
		a.log.Info("background sync completed",
			logger.String("tag", string(kind)),
			logger.Int("replayed", report.Replayed),
			logger.Int("failed", report.Failed),
			logger.Duration("duration", report.Duration))
	}
	a.bus.Emit(events.TypeSyncCompleted, map[string]any{
		"tag":       string(kind),
		"attempted": report.Attempted,
		"replayed":  report.Replayed,
		"failed":    report.Failed,
	})
	return report, errors.Join(errs...)
}

// SyncAll runs Sync for every kind. Kinds already syncing are skipped.
func (a *Agent) SyncAll(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	var errs []error
	for _, kind := range Kinds() {
		report, err := a.Sync(ctx, kind)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil && !errors.Is(err, ErrSyncInProgress) {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func (a *Agent) replay(ctx context.Context, kind Kind, sub *entities.Submission) error {
	target := a.origin.ResolveReference(&url.URL{Path: kind.Endpoint()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(sub.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Offline-Submission-ID", sub.ID)

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("backgroundsync").
			Category(errors.CategoryNetwork).
			Context("endpoint", target.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(fmt.Errorf("origin responded %d: %s", resp.StatusCode, bytes.TrimSpace(body))).
			Component("backgroundsync").
			Category(errors.CategorySync).
			Context("endpoint", target.String()).
			Context("status", resp.StatusCode).
			Build()
	}
	return nil
}
