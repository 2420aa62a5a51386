package repository

import "github.com/menubuilder/offline-gateway/internal/errors"

var (
	// ErrUnknownQueue is returned for a queue name outside entities.Queues.
	ErrUnknownQueue = errors.NewStd("unknown submission queue")
	// ErrPartitionNotFound is returned when a cache partition does not exist.
	ErrPartitionNotFound = errors.NewStd("cache partition not found")
	// ErrCacheEntryNotFound is returned when a partition holds no entry for a key.
	ErrCacheEntryNotFound = errors.NewStd("cache entry not found")
)
