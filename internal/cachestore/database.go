package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"github.com/menubuilder/offline-gateway/internal/datastore/repository"
	"github.com/menubuilder/offline-gateway/internal/errors"
)

// DBRegistry persists partitions through a repository.CacheRepository so the
// cache survives gateway restarts.
type DBRegistry struct {
	repo repository.CacheRepository
}

// NewDBRegistry creates a registry backed by repo.
func NewDBRegistry(repo repository.CacheRepository) *DBRegistry {
	return &DBRegistry{repo: repo}
}

// Open ensures the partition row exists and returns a handle to it.
func (r *DBRegistry) Open(ctx context.Context, name string) (Partition, error) {
	p, err := r.repo.EnsurePartition(ctx, name)
	if err != nil {
		return nil, errors.New(err).
			Component("cachestore").
			Category(errors.CategoryCache).
			Context("partition", name).
			Build()
	}
	return &dbPartition{repo: r.repo, id: p.ID, name: p.Name}, nil
}

// Has reports whether the partition exists.
func (r *DBRegistry) Has(ctx context.Context, name string) (bool, error) {
	_, err := r.repo.FindPartition(ctx, name)
	if errors.Is(err, repository.ErrPartitionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Names lists partitions in creation order.
func (r *DBRegistry) Names(ctx context.Context) ([]string, error) {
	parts, err := r.repo.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(parts))
	for i := range parts {
		names[i] = parts[i].Name
	}
	return names, nil
}

// Delete removes a partition with its entries.
func (r *DBRegistry) Delete(ctx context.Context, name string) (bool, error) {
	return r.repo.DeletePartition(ctx, name)
}

type dbPartition struct {
	repo repository.CacheRepository
	id   uint
	name string
}

func (p *dbPartition) Name() string {
	return p.name
}

func (p *dbPartition) Match(ctx context.Context, key string) (*Response, bool, error) {
	e, err := p.repo.GetEntry(ctx, p.id, key)
	if errors.Is(err, repository.ErrCacheEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	resp, err := fromEntry(e)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func (p *dbPartition) Put(ctx context.Context, key string, resp *Response) error {
	return p.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

func (p *dbPartition) PutAll(ctx context.Context, entries []Entry) error {
	rows := make([]*entities.CacheEntry, 0, len(entries))
	for _, e := range entries {
		row, err := toEntry(e.Key, e.Response)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return p.repo.PutEntries(ctx, p.id, rows)
}

func (p *dbPartition) Keys(ctx context.Context) ([]string, error) {
	return p.repo.ListKeys(ctx, p.id)
}

func (p *dbPartition) Size(ctx context.Context) (int64, error) {
	return p.repo.PartitionSize(ctx, p.id)
}

func toEntry(key string, resp *Response) (*entities.CacheEntry, error) {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode headers for %s: %w", key, err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return &entities.CacheEntry{
		RequestKey: key,
		Status:     resp.Status,
		Header:     string(header),
		Body:       resp.Body,
		Size:       resp.Size(),
		StoredAt:   storedAt,
	}, nil
}

func fromEntry(e *entities.CacheEntry) (*Response, error) {
	header := http.Header{}
	if e.Header != "" && e.Header != "null" {
		if err := json.Unmarshal([]byte(e.Header), &header); err != nil {
			return nil, fmt.Errorf("failed to decode headers for %s: %w", e.RequestKey, err)
		}
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	return &Response{
		Status:   e.Status,
		Header:   header,
		Body:     body,
		StoredAt: e.StoredAt,
	}, nil
}
