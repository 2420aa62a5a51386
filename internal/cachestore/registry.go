package cachestore

import (
	"context"
)

// Entry pairs a request key with the response to store under it.
type Entry struct {
	Key      string
	Response *Response
}

// Partition is a single named cache bucket. Implementations are safe for
// concurrent use.
type Partition interface {
	Name() string
	// Match returns a copy of the stored response, or ok=false on a miss.
	Match(ctx context.Context, key string) (resp *Response, ok bool, err error)
	// Put stores a copy of resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	Keys(ctx context.Context) ([]string, error)
	// Size returns the total byte footprint of the partition.
	Size(ctx context.Context) (int64, error)
}

// Registry owns the set of partitions.
type Registry interface {
	// Open returns the named partition, creating it on first use.
	Open(ctx context.Context, name string) (Partition, error)
	Has(ctx context.Context, name string) (bool, error)
	// Names lists every existing partition.
	Names(ctx context.Context) ([]string, error)
	// Delete removes a partition and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// TotalSize sums Size over every partition in the registry.
func TotalSize(ctx context.Context, reg Registry) (int64, error) {
	names, err := reg.Names(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		p, err := reg.Open(ctx, name)
		if err != nil {
			return 0, err
		}
		n, err := p.Size(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// MatchAny looks key up in each named partition that exists, in order, and
// returns the first hit. Partitions that do not exist are not created.
func MatchAny(ctx context.Context, reg Registry, names []string, key string) (*Response, bool, error) {
	for _, name := range names {
		exists, err := reg.Has(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			continue
		}
		p, err := reg.Open(ctx, name)
		if err != nil {
			return nil, false, err
		}
		resp, ok, err := p.Match(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

// PartitionStats describes one partition for diagnostics.
type PartitionStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Current bool   `json:"current"`
}

// Stats reports entry counts and sizes for every partition.
func Stats(ctx context.Context, reg Registry, current Names) ([]PartitionStats, error) {
	names, err := reg.Names(ctx)
	if err != nil {
		return nil, err
	}
	stats := make([]PartitionStats, 0, len(names))
	for _, name := range names {
		p, err := reg.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := p.Keys(ctx)
		if err != nil {
			return nil, err
		}
		size, err := p.Size(ctx)
		if err != nil {
			return nil, err
		}
		stats = append(stats, PartitionStats{
			Name:    name,
			Entries: len(keys),
			Bytes:   size,
			Current: current.Current(name),
		})
	}
	return stats, nil
}
