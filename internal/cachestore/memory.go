package cachestore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryRegistry keeps partitions in process memory. Each partition is a
// go-cache instance without expiry or janitor goroutine: entries live until the
// partition is deleted.
type MemoryRegistry struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	order      []string
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{partitions: make(map[string]*memoryPartition)}
}

// Open returns the named partition, creating it if needed.
func (r *MemoryRegistry) Open(_ context.Context, name string) (Partition, error) {
	r.mu.RLock()
	p, ok := r.partitions[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.partitions[name]; ok {
		return p, nil
	}
	p = &memoryPartition{
		name:  name,
		items: gocache.New(gocache.NoExpiration, 0),
	}
	r.partitions[name] = p
	r.order = append(r.order, name)
	return p, nil
}

// Has reports whether the partition exists.
func (r *MemoryRegistry) Has(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.partitions[name]
	return ok, nil
}

// Names lists partitions in creation order.
func (r *MemoryRegistry) Names(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order), nil
}

// Delete drops a partition and everything in it.
func (r *MemoryRegistry) Delete(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partitions[name]
	if !ok {
		return false, nil
	}
	p.items.Flush()
	delete(r.partitions, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true, nil
}

type memoryPartition struct {
	name string
	// mu serialises PutAll against single Puts so a batch is never interleaved.
	mu    sync.RWMutex
	items *gocache.Cache
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(_ context.Context, key string) (*Response, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*Response).Clone(), true, nil
}

func (p *memoryPartition) Put(_ context.Context, key string, resp *Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items.Set(key, stamped(resp), gocache.NoExpiration)
	return nil
}

func (p *memoryPartition) PutAll(_ context.Context, entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		p.items.Set(e.Key, stamped(e.Response), gocache.NoExpiration)
	}
	return nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.items.Items())), nil
}

func (p *memoryPartition) Size(_ context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total int64
	for _, item := range p.items.Items() {
		total += item.Object.(*Response).Size()
	}
	return total, nil
}

// stamped returns a private copy of resp with StoredAt set.
func stamped(resp *Response) *Response {
	c := resp.Clone()
	if c.StoredAt.IsZero() {
		c.StoredAt = time.Now()
	}
	return c
}
