// Package events carries gateway notifications (lifecycle transitions, sync
// reports, cache writes) from the components that produce them to the
// websocket clients, the metrics recorder and the MQTT publisher.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TypeStateChanged      Type = "lifecycle.state_changed"
	TypeInstallFailed     Type = "lifecycle.install_failed"
	TypePartitionPurged   Type = "cache.partition_purged"
	TypeCacheWrite        Type = "cache.write"
	TypeSyncCompleted     Type = "sync.completed"
	TypeConnectivity      Type = "connectivity.changed"
	TypeSubmissionQueued  Type = "sync.submission_queued"
	TypeIngredientsCached Type = "cache.ingredients_cached"
)

// Event is a single notification. Properties must be JSON-encodable.
type Event struct {
	Type       Type           `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Handler processes events. Handlers run on the bus goroutine and must not block.
type Handler func(event *Event)

// busBufferSize is the capacity of the async event channel. Events are dropped
// when the buffer is full.
const busBufferSize = 1000

// Bus is an async pub/sub. Publish never blocks the caller. A nil *Bus is valid
// and discards everything, so components can take an optional bus.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewBus creates a bus and starts its worker.
func NewBus() *Bus {
	b := &Bus{
		eventCh: make(chan *Event, busBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(handler Handler) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. Events published after Stop are discarded.
func (b *Bus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
	}
}

// Emit is shorthand for Publish with a fresh event.
func (b *Bus) Emit(typ Type, props map[string]any) {
	b.Publish(&Event{Type: typ, Properties: props})
}

// Stop drains pending events and waits for the worker to exit. Safe to call
// multiple times.
func (b *Bus) Stop() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, event)
	}
}

// safeCall keeps the bus goroutine alive when a handler panics.
func safeCall(handler Handler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // handlers log their own failures
	}()
	handler(event)
}
