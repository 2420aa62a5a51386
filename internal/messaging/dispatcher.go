package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/menubuilder/offline-gateway/internal/cachestore"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"github.com/menubuilder/offline-gateway/internal/events"
	"github.com/menubuilder/offline-gateway/internal/logger"
)

// Activator forces activation of a waiting version.
type Activator interface {
	SkipWaiting()
}

// Options configures a Dispatcher.
type Options struct {
	Registry  cachestore.Registry
	Names     cachestore.Names
	Activator Activator
	// IngredientsURL is the absolute URL the ingredient list is cached under.
	IngredientsURL *url.URL
	Bus            *events.Bus
	Logger         logger.Logger
}

// Dispatcher routes messages to their handlers.
type Dispatcher struct {
	registry       cachestore.Registry
	names          cachestore.Names
	activator      Activator
	ingredientsKey string
	bus            *events.Bus
	log            logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Dispatcher{
		registry:       opts.Registry,
		names:          opts.Names,
		activator:      opts.Activator,
		ingredientsKey: cachestore.RequestKey(http.MethodGet, opts.IngredientsURL),
		bus:            opts.Bus,
		log:            log.Module("messaging"),
	}
}

// Dispatch handles msg. port may be nil; messages that answer through it
// then do nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message, port ReplyPort) error {
	kind, err := ParseKind(string(msg.Type))
	if err != nil {
		return err
	}

	switch kind {
	case KindSkipWaiting:
		d.activator.SkipWaiting()
		return nil
	case KindCacheIngredients:
		return d.cacheIngredients(ctx, msg.Payload)
	case KindGetCacheSize:
		return d.cacheSize(ctx, port)
	}
	return nil
}

// cacheIngredients stores payload as a synthetic 200 JSON response for the
// ingredients API so it is served while offline.
func (d *Dispatcher) cacheIngredients(ctx context.Context, payload json.RawMessage) error {
	var list []json.RawMessage
	err := json.Unmarshal(payload, &list)
	if err == nil && list == nil {
		err = errors.NewStd("ingredient payload must be a JSON array")
	}
	if err != nil {
		return errors.New(err).
			Component("messaging").
			Category(errors.CategoryValidation).
			Context("type", string(KindCacheIngredients)).
			Build()
	}

	var body bytes.Buffer
	if err := json.Compact(&body, payload); err != nil {
		return errors.New(err).
			Component("messaging").
			Category(errors.CategoryValidation).
			Build()
	}

	p, err := d.registry.Open(ctx, d.names.API)
	if err != nil {
		return err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	resp := &cachestore.Response{
		Status:   http.StatusOK,
		Header:   h,
		Body:     body.Bytes(),
		StoredAt: time.Now(),
	}
	if err := p.Put(ctx, d.ingredientsKey, resp); err != nil {
		return err
	}

	d.log.Info("ingredient list cached", logger.Int("ingredients", len(list)))
	d.bus.Emit(events.TypeIngredientsCached, map[string]any{"count": len(list)})
	return nil
}

func (d *Dispatcher) cacheSize(ctx context.Context, port ReplyPort) error {
	if port == nil {
		d.log.Debug("cache size requested without a reply port, ignoring")
		return nil
	}
	size, err := cachestore.TotalSize(ctx, d.registry)
	if err != nil {
		return err
	}
	return port.Send(ctx, Reply{Type: KindGetCacheSize, Size: &size})
}
