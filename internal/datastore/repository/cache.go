package repository

import (
	"context"

	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
)

// CacheRepository persists cache partitions and their entries.
type CacheRepository interface {
	// EnsurePartition returns the named partition, creating it if missing.
	EnsurePartition(ctx context.Context, name string) (*entities.CachePartition, error)
	// FindPartition returns ErrPartitionNotFound when name does not exist.
	FindPartition(ctx context.Context, name string) (*entities.CachePartition, error)
	ListPartitions(ctx context.Context) ([]entities.CachePartition, error)
	// DeletePartition removes the partition and all its entries.
	// It reports whether a partition was removed.
	DeletePartition(ctx context.Context, name string) (bool, error)

	// GetEntry returns ErrCacheEntryNotFound when the key is not stored.
	GetEntry(ctx context.Context, partitionID uint, requestKey string) (*entities.CacheEntry, error)
	// PutEntries upserts all entries in one transaction.
	PutEntries(ctx context.Context, partitionID uint, entries []*entities.CacheEntry) error
	ListKeys(ctx context.Context, partitionID uint) ([]string, error)
	PartitionSize(ctx context.Context, partitionID uint) (int64, error)
}
